package at

// Scanner collects modem output pushed in arbitrary chunks and hands back
// complete lines. Unlike bufio.Scanner it never reads on its own, so the
// bytes following the last line (for example the first mux frames after
// AT+CMUX) stay available through Rest.
type Scanner struct {
	buf []byte
}

// Feed appends p and returns every complete line now available
func (s *Scanner) Feed(p []byte) []string {
	s.buf = append(s.buf, p...)

	var lines []string
	for {
		adv, tok, _ := Splitter(s.buf, false)
		if adv == 0 {
			break
		}
		s.buf = s.buf[adv:]
		if tok != nil {
			lines = append(lines, string(tok))
		}
	}
	return lines
}

// Next feeds p and returns lines up to and including the first final
// result code. Lines after it remain buffered. The bool reports whether a
// final result was found.
func (s *Scanner) Next(p []byte) ([]string, bool) {
	s.buf = append(s.buf, p...)

	var lines []string
	for {
		adv, tok, _ := Splitter(s.buf, false)
		if adv == 0 {
			return lines, false
		}
		s.buf = s.buf[adv:]
		if tok == nil {
			continue
		}
		line := string(tok)
		lines = append(lines, line)
		if Classify(line) == TypeFinal {
			return lines, true
		}
	}
}

// Rest returns and clears the unconsumed bytes
func (s *Scanner) Rest() []byte {
	rest := s.buf
	s.buf = nil
	return rest
}

// Reset drops buffered output
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
}
