package qit

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Commands lists the directives understood after '!'.
var Commands = []string{"align", "magic", "nomagic"}

func (c *compiler) command(tok Token) error {
	switch tok.Literal {
	case "align":
		width, err := c.immediate(tok, "alignment")
		if err != nil {
			return err
		}
		if width == 0 {
			return c.errorf(tok, ErrDivisionByZero, "!align 0 has no alignment")
		}
		out := c.current()
		pad := out.padding(width)
		if limit := uint64(c.config.MaxOutputBytes); pad > limit-min(c.totalSize(), limit) {
			return c.errorf(tok, ErrOutputTooLarge, "!align %d needs %d padding bytes, over the %d byte limit", width, pad, limit)
		}
		out.align(width)
		return nil
	case "magic":
		c.magic = true
	case "nomagic":
		c.magic = false
	default:
		if suggestion := suggestCommand(tok.Literal); suggestion != "" {
			return c.errorf(tok, ErrUnknownCommand, "unknown command !%s (did you mean !%s?)", tok.Literal, suggestion)
		}
		return c.errorf(tok, ErrUnknownCommand, "unknown command !%s", tok.Literal)
	}
	return nil
}

// suggestCommand returns the closest known command to name, or "".
func suggestCommand(name string) string {
	if name == "" {
		return ""
	}
	ranks := fuzzy.RankFindFold(name, Commands)
	if len(ranks) == 0 {
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}
