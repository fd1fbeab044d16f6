package tmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello world", want: "hello world"},
		{name: "sgr color", in: "\x1b[32mok\x1b[0m done", want: "ok done"},
		{name: "sgr multi param", in: "\x1b[1;38;5;208mwarn\x1b[m", want: "warn"},
		{name: "cursor movement", in: "a\x1b[2Kb\x1b[10;4Hc", want: "abc"},
		{name: "private mode", in: "\x1b[?2004hready\x1b[?2004l", want: "ready"},
		{name: "osc title bel", in: "\x1b]0;user@host\x07$ ", want: "$ "},
		{name: "osc hyperlink st", in: "\x1b]8;;http://x\x1b\\link\x1b]8;;\x1b\\", want: "link"},
		{name: "charset select", in: "\x1b(Bline", want: "line"},
		{name: "dangling esc", in: "tail\x1b", want: "tail"},
		{name: "unterminated csi", in: "x\x1b[12", want: "x"},
		{name: "utf8 prompt untouched", in: "\x1b[36muser@host:~$ (ง •_•)ง\x1b[0m ", want: "user@host:~$ (ง •_•)ง "},
		{name: "utf8 continuation byte 0x9b kept", in: "\x1b[1mÛber\x1b[0m", want: "Ûber"},
		{name: "multiline", in: "\x1b[31mline1\x1b[0m\nline2\n", want: "line1\nline2\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, StripANSI(tc.in))
		})
	}
}
