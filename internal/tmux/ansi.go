package tmux

import "strings"

// StripANSI removes terminal escape sequences (CSI such as colors and cursor
// movement, OSC such as titles and hyperlinks, and two-byte ESC sequences)
// from captured pane text. Single pass, no regex.
//
// Only the 7-bit ESC-introduced forms are recognized. tmux emits captures as
// UTF-8, where the 8-bit C1 introducers (0x9B CSI, 0x9D OSC) are ordinary
// continuation bytes, e.g. the second byte of "Û".
func StripANSI(content string) string {
	if strings.IndexByte(content, '\x1b') < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	for i := 0; i < len(content); {
		if content[i] != '\x1b' {
			b.WriteByte(content[i])
			i++
			continue
		}
		if i+1 >= len(content) {
			// Dangling ESC at end of capture.
			break
		}

		switch content[i+1] {
		case '[':
			// CSI: parameter and intermediate bytes, then a final byte in 0x40-0x7E.
			j := i + 2
			for j < len(content) && (content[j] < 0x40 || content[j] > 0x7e) {
				j++
			}
			i = j + 1
		case ']':
			// OSC: terminated by BEL or ST (ESC \).
			rest := content[i+2:]
			bel := strings.IndexByte(rest, '\x07')
			st := strings.Index(rest, "\x1b\\")
			switch {
			case bel >= 0 && (st < 0 || bel < st):
				i += 2 + bel + 1
			case st >= 0:
				i += 2 + st + 2
			default:
				i = len(content)
			}
		default:
			// nF sequences (ESC ( B) carry intermediate bytes before the final one.
			j := i + 1
			for j < len(content) && content[j] >= 0x20 && content[j] <= 0x2f {
				j++
			}
			i = j + 1
		}
	}
	return b.String()
}
