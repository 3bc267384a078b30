// Package chatfmt builds Telegram-HTML message bodies.
//
// Values of type H are already escaped and may be concatenated freely; plain
// strings must go through Esc (or one of the tag helpers) first.
package chatfmt
