package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/mgomes/qit/qit"
)

var lspKeywords = []string{
	"block",
	"endblock",
	"endrept",
	"rept",
}

var lspWidths = []string{
	"int8",
	"int16",
	"int32",
	"int64",
}

type lspInboundMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

type lspResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type lspOutboundMessage struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *json.RawMessage  `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  any               `json:"params,omitempty"`
	Result  any               `json:"result,omitempty"`
	Error   *lspResponseError `json:"error,omitempty"`
}

type lspDidOpenParams struct {
	TextDocument struct {
		URI  string `json:"uri"`
		Text string `json:"text"`
	} `json:"textDocument"`
}

type lspDidChangeParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
	ContentChanges []struct {
		Text string `json:"text"`
	} `json:"contentChanges"`
}

type lspTextDocumentPositionParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
	Position struct {
		Line      int `json:"line"`
		Character int `json:"character"`
	} `json:"position"`
}

type lspServer struct {
	reader *bufio.Reader
	writer *bufio.Writer
	engine *qit.Engine
	docs   map[string]string
}

func runLSP(args []string) error {
	fs := flag.NewFlagSet("lsp", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	configPath := fs.String("config", "", "TOML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadBuildConfig(*configPath)
	if err != nil {
		return err
	}
	engine, err := qit.NewEngine(cfg.engineConfig())
	if err != nil {
		return err
	}

	server := &lspServer{
		reader: bufio.NewReader(os.Stdin),
		writer: bufio.NewWriter(os.Stdout),
		engine: engine,
		docs:   make(map[string]string),
	}
	return server.serve()
}

// lookupEnv resolves e$NAME the same way the server's engine does.
func (s *lspServer) lookupEnv(name string) (string, bool) {
	if lookup := s.engine.Config().LookupEnv; lookup != nil {
		return lookup(name)
	}
	return os.LookupEnv(name)
}

func (s *lspServer) serve() error {
	for {
		payload, err := s.readPayload()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var incoming lspInboundMessage
		if err := json.Unmarshal(payload, &incoming); err != nil {
			continue
		}

		messages := s.handleMessage(incoming)
		for _, msg := range messages {
			if err := s.writePayload(msg); err != nil {
				return err
			}
		}

		if incoming.Method == "exit" {
			return nil
		}
	}
}

func (s *lspServer) handleMessage(incoming lspInboundMessage) []lspOutboundMessage {
	switch incoming.Method {
	case "initialize":
		return []lspOutboundMessage{
			{
				JSONRPC: "2.0",
				ID:      incoming.ID,
				Result: map[string]any{
					"capabilities": map[string]any{
						"textDocumentSync": 1,
						"hoverProvider":    true,
						"completionProvider": map[string]any{
							"resolveProvider":   false,
							"triggerCharacters": []string{"$", "!"},
						},
					},
				},
			},
		}
	case "initialized":
		return nil
	case "shutdown":
		if incoming.ID == nil {
			return nil
		}
		return []lspOutboundMessage{{JSONRPC: "2.0", ID: incoming.ID, Result: nil}}
	case "exit":
		return nil
	case "textDocument/didOpen":
		var params lspDidOpenParams
		if err := json.Unmarshal(incoming.Params, &params); err != nil {
			return nil
		}
		s.docs[params.TextDocument.URI] = params.TextDocument.Text
		return []lspOutboundMessage{
			s.publishDiagnostics(params.TextDocument.URI, params.TextDocument.Text),
		}
	case "textDocument/didChange":
		var params lspDidChangeParams
		if err := json.Unmarshal(incoming.Params, &params); err != nil {
			return nil
		}
		if len(params.ContentChanges) == 0 {
			return nil
		}
		latest := params.ContentChanges[len(params.ContentChanges)-1].Text
		s.docs[params.TextDocument.URI] = latest
		return []lspOutboundMessage{
			s.publishDiagnostics(params.TextDocument.URI, latest),
		}
	case "textDocument/didClose":
		var params lspTextDocumentPositionParams
		if err := json.Unmarshal(incoming.Params, &params); err == nil {
			delete(s.docs, params.TextDocument.URI)
		}
		return nil
	case "textDocument/completion":
		if incoming.ID == nil {
			return nil
		}
		var params lspTextDocumentPositionParams
		_ = json.Unmarshal(incoming.Params, &params)
		return []lspOutboundMessage{
			{
				JSONRPC: "2.0",
				ID:      incoming.ID,
				Result: map[string]any{
					"isIncomplete": false,
					"items":        completionItems(s.fieldReferences(params.TextDocument.URI)),
				},
			},
		}
	case "textDocument/hover":
		if incoming.ID == nil {
			return nil
		}
		var params lspTextDocumentPositionParams
		if err := json.Unmarshal(incoming.Params, &params); err != nil {
			return []lspOutboundMessage{
				{
					JSONRPC: "2.0",
					ID:      incoming.ID,
					Error:   &lspResponseError{Code: -32602, Message: "invalid hover params"},
				},
			}
		}
		source := s.docs[params.TextDocument.URI]
		word := wordAtPosition(source, params.Position.Line, params.Position.Character)
		if word == "" {
			return []lspOutboundMessage{
				{JSONRPC: "2.0", ID: incoming.ID, Result: nil},
			}
		}
		return []lspOutboundMessage{
			{
				JSONRPC: "2.0",
				ID:      incoming.ID,
				Result: map[string]any{
					"contents": map[string]any{
						"kind":  "markdown",
						"value": s.describeWord(source, word),
					},
				},
			},
		}
	default:
		if incoming.ID == nil {
			return nil
		}
		return []lspOutboundMessage{
			{
				JSONRPC: "2.0",
				ID:      incoming.ID,
				Error: &lspResponseError{
					Code:    -32601,
					Message: "method not found",
				},
			},
		}
	}
}

func (s *lspServer) publishDiagnostics(uri, source string) lspOutboundMessage {
	return lspOutboundMessage{
		JSONRPC: "2.0",
		Method:  "textDocument/publishDiagnostics",
		Params: map[string]any{
			"uri":         uri,
			"diagnostics": diagnosticsForSource(s.engine, source),
		},
	}
}

// fieldReferences lists v$block.field for every resolved field of the
// document, or nothing when it does not compile.
func (s *lspServer) fieldReferences(uri string) []string {
	source, ok := s.docs[uri]
	if !ok {
		return nil
	}
	artifact, err := s.engine.Compile(source)
	if err != nil {
		return nil
	}
	symbols := artifact.Symbols()
	refs := make([]string, 0)
	for _, block := range symbols.Blocks() {
		for _, field := range symbols.Fields(block) {
			refs = append(refs, qit.Reference{Block: block, Field: field.Name}.String())
		}
	}
	return refs
}

func diagnosticsForSource(engine *qit.Engine, source string) []map[string]any {
	_, err := engine.Compile(source)
	if err == nil {
		return []map[string]any{}
	}

	var cerr *qit.CompileError
	if !errors.As(err, &cerr) || cerr.Pos.Line == 0 {
		return []map[string]any{
			newDiagnostic(0, 0, 1, err.Error()),
		}
	}
	width := max(utf8.RuneCountInString(cerr.Word), 1)
	return []map[string]any{
		newDiagnostic(cerr.Pos.Line-1, max(0, cerr.Pos.Column-1), width, cerr.Msg),
	}
}

func newDiagnostic(line, character, width int, message string) map[string]any {
	return map[string]any{
		"range": map[string]any{
			"start": map[string]any{
				"line":      line,
				"character": character,
			},
			"end": map[string]any{
				"line":      line,
				"character": character + width,
			},
		},
		"severity": 1,
		"source":   "qit-lsp",
		"message":  message,
	}
}

func completionItems(refs []string) []map[string]any {
	type entry struct {
		label  string
		kind   int
		detail string
	}
	entries := make([]entry, 0, len(lspKeywords)+len(lspWidths)+len(qit.Commands)+len(refs))
	for _, keyword := range lspKeywords {
		entries = append(entries, entry{keyword, 14, "keyword"}) // Keyword
	}
	for _, width := range lspWidths {
		entries = append(entries, entry{width, 25, "field width"}) // TypeParameter
	}
	for _, command := range qit.Commands {
		entries = append(entries, entry{"!" + command, 3, "command"}) // Function
	}
	for _, ref := range refs {
		entries = append(entries, entry{ref, 5, "field reference"}) // Field
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].label < entries[j].label
	})

	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"label":  e.label,
			"kind":   e.kind,
			"detail": e.detail,
		})
	}
	return items
}

// describeWord renders hover markdown for a source word.
func (s *lspServer) describeWord(source, word string) string {
	header := fmt.Sprintf("`%s`\n\n", word)
	switch {
	case strings.HasPrefix(word, "v$"):
		block, field, ok := strings.Cut(strings.TrimPrefix(word, "v$"), ".")
		if !ok {
			return header + "malformed field reference"
		}
		artifact, err := s.engine.Compile(source)
		if err != nil {
			return header + "field reference (document does not compile)"
		}
		value, ok := artifact.Symbols().Lookup(block, field)
		if !ok {
			return header + "unresolved field reference"
		}
		return header + fmt.Sprintf("field reference = %d (%#x)", value, value)
	case strings.HasPrefix(word, "e$"):
		if value, ok := s.lookupEnv(strings.TrimPrefix(word, "e$")); ok {
			return header + fmt.Sprintf("environment substitution = %q", value)
		}
		return header + "environment substitution (unset, kept as a label)"
	case strings.HasPrefix(word, "!"):
		return header + "qit command"
	case strings.HasPrefix(word, "int"):
		if width, err := strconv.Atoi(strings.TrimPrefix(word, "int")); err == nil {
			return header + fmt.Sprintf("%d-bit field, %d byte(s) of output", width, width/8)
		}
		return header + "qit field width"
	}
	for _, keyword := range lspKeywords {
		if keyword == word {
			return header + "qit keyword"
		}
	}
	return header + "qit label"
}

// wordAtPosition returns the whitespace-delimited word under the cursor,
// stripped of the bracket and terminator punctuation the lexer splits off.
// character is a UTF-16 offset.
func wordAtPosition(source string, line, character int) string {
	lines := strings.Split(source, "\n")
	if line < 0 || line >= len(lines) {
		return ""
	}

	runes := []rune(lines[line])
	if len(runes) == 0 {
		return ""
	}
	cursor := runeIndex(runes, max(character, 0))
	if cursor == len(runes) {
		cursor--
	}
	if unicode.IsSpace(runes[cursor]) {
		if cursor > 0 && !unicode.IsSpace(runes[cursor-1]) {
			cursor--
		} else {
			return ""
		}
	}

	start := cursor
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	end := cursor
	for end < len(runes) && !unicode.IsSpace(runes[end]) {
		end++
	}
	word := strings.TrimPrefix(string(runes[start:end]), "[")
	word = strings.TrimSuffix(word, ";")
	return strings.TrimSuffix(word, "]")
}

func runeIndex(runes []rune, utf16Offset int) int {
	units := 0
	for i, r := range runes {
		if units >= utf16Offset {
			return i
		}
		units += utf16.RuneLen(r)
	}
	return len(runes)
}

func (s *lspServer) readPayload() ([]byte, error) {
	contentLength := -1
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if strings.EqualFold(name, "Content-Length") {
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
			contentLength = n
		}
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}
	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(s.reader, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *lspServer) writePayload(msg lspOutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	return s.writer.Flush()
}
