// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package replay

// parseMetadata scans the optional trailing UBJSON block for the startAt
// and playedOn keys. The block is enrichment only: a missing, truncated,
// or unrecognized block yields an empty Metadata, never a decode failure.
func parseMetadata(data []byte) Metadata {
	var m Metadata
	p := &ubjsonParser{data: data}
	if !p.expect('U') {
		return m
	}
	key, ok := p.readShortString()
	if !ok || key != "metadata" || !p.expect('{') {
		return m
	}
	p.scanObject(&m)
	return m
}

// ubjsonParser is a minimal reader for the UBJSON subset replays use:
// objects with uint8-length keys, string ('S'), int32 ('l'), uint8 ('U'),
// and nested object values. Anything else aborts the scan.
type ubjsonParser struct {
	data []byte
	pos  int
	bad  bool
}

// scanObject walks key/value pairs until the closing brace, collecting
// startAt and playedOn wherever they appear in the tree.
func (p *ubjsonParser) scanObject(m *Metadata) {
	for !p.bad {
		if p.peek() == '}' {
			p.pos++
			return
		}
		if !p.expect('U') {
			return
		}
		key, ok := p.readShortString()
		if !ok {
			return
		}
		switch p.next() {
		case 'S':
			if !p.expect('U') {
				return
			}
			val, ok := p.readShortString()
			if !ok {
				return
			}
			switch key {
			case "startAt":
				m.StartAt = val
			case "playedOn":
				m.PlayedOn = val
			}
		case 'l':
			if p.pos+4 > len(p.data) {
				p.bad = true
				return
			}
			p.pos += 4
		case 'U':
			if p.pos >= len(p.data) {
				p.bad = true
				return
			}
			p.pos++
		case '{':
			p.scanObject(m)
		default:
			p.bad = true
			return
		}
	}
}

func (p *ubjsonParser) peek() byte {
	if p.pos >= len(p.data) {
		p.bad = true
		return 0
	}
	return p.data[p.pos]
}

func (p *ubjsonParser) next() byte {
	if p.pos >= len(p.data) {
		p.bad = true
		return 0
	}
	b := p.data[p.pos]
	p.pos++
	return b
}

func (p *ubjsonParser) expect(b byte) bool {
	if p.next() != b {
		p.bad = true
		return false
	}
	return !p.bad
}

// readShortString reads a uint8 length followed by that many bytes.
func (p *ubjsonParser) readShortString() (string, bool) {
	if p.pos >= len(p.data) {
		p.bad = true
		return "", false
	}
	n := int(p.data[p.pos])
	p.pos++
	if p.pos+n > len(p.data) {
		p.bad = true
		return "", false
	}
	s := string(p.data[p.pos : p.pos+n])
	p.pos += n
	return s, true
}
