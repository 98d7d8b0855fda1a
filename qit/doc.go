// Package qit implements the qit layout compiler. A qit source is a sequence
// of whitespace-separated words describing a packed binary layout:
//   - Named scopes via `block <name> ... endblock` grouping field declarations.
//   - Fixed-width little-endian fields via `int<N> <name> : <value> ;` where N
//     is a multiple of 8 between 8 and 64.
//   - Single binary arithmetic expressions `[ lhs op rhs ]` with + - * /.
//   - Repeated regions via `rept <count> ... endrept`.
//   - Directives `!align <n>`, `!magic` and `!nomagic`.
//   - Field references `v$block.field`, resolved regardless of source order.
//   - Environment substitution `e$NAME`, applied before classification.
//
// Words between a pair of `##` markers are ignored. Unless `!nomagic` is in
// effect at the end of compilation, the output starts with the 4-byte magic
// constant 0xC091FA2B in little-endian order.
package qit
