package storage

// MatchPattern reports whether str matches a Redis glob pattern.
//
// Supported syntax:
//   - *      any sequence, including empty
//   - ?      any single byte
//   - [abc]  one byte from the set; [^abc] negates, [a-z] is a range
//   - \x     the literal byte x
//
// Matching backtracks only to the most recent star, so it runs in
// O(len(str) * len(pattern)) in the worst case.
func MatchPattern(str, pattern string) bool {
	s, p := 0, 0
	starP, starS := -1, 0

	for s < len(str) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				for p < len(pattern) && pattern[p] == '*' {
					p++
				}
				if p == len(pattern) {
					return true
				}
				starP, starS = p, s
				continue
			case '?':
				s++
				p++
				continue
			case '[':
				if matched, next, ok := matchClass(pattern, p, str[s]); ok && matched {
					s++
					p = next
					continue
				}
			case '\\':
				if p+1 < len(pattern) && pattern[p+1] == str[s] {
					s++
					p += 2
					continue
				}
			default:
				if pattern[p] == str[s] {
					s++
					p++
					continue
				}
			}
		}

		if starP < 0 {
			return false
		}
		starS++
		s = starS
		p = starP
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches c against the bracket expression starting at
// pattern[p] == '['. It returns whether c matched, the index just past the
// closing bracket, and whether the class was well formed.
func matchClass(pattern string, p int, c byte) (bool, int, bool) {
	i := p + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}

	matched := false
	for i < len(pattern) && pattern[i] != ']' {
		switch {
		case pattern[i] == '\\' && i+1 < len(pattern):
			if pattern[i+1] == c {
				matched = true
			}
			i += 2
		case i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']':
			lo, hi := pattern[i], pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 3
		default:
			if pattern[i] == c {
				matched = true
			}
			i++
		}
	}
	if i >= len(pattern) {
		return false, 0, false
	}
	if negate {
		matched = !matched
	}
	return matched, i + 1, true
}
