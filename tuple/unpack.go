package tuple

import "fmt"

// Unpack decodes a byte string produced by Pack back into its elements.
// []byte elements decode as []byte, strings as string, integers as int64.
func Unpack(data []byte) ([]Element, error) {
	var out []Element
	for len(data) > 0 {
		el, rest, err := decodeOne(data)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
		data = rest
	}
	return out, nil
}

func decodeOne(data []byte) (Element, []byte, error) {
	typ := data[0]
	switch {
	case typ == typeNil:
		return nil, data[1:], nil
	case typ == typeBytes || typ == typeString:
		raw, rest, err := decodeBytesLike(data[1:])
		if err != nil {
			return nil, nil, err
		}
		if typ == typeString {
			return string(raw), rest, nil
		}
		return raw, rest, nil
	case typ == typeIntZero:
		return int64(0), data[1:], nil
	case typ > typeIntZero:
		n := int(typ - typeIntZero)
		if len(data)-1 < n {
			return nil, nil, fmt.Errorf("tuple: truncated positive int")
		}
		v := readBigEndian(data[1:1+n], n)
		return int64(v), data[1+n:], nil
	default: // typ < typeIntZero, and not typeNil/typeBytes/typeString
		n := int(typeIntZero - typ)
		if len(data)-1 < n {
			return nil, nil, fmt.Errorf("tuple: truncated negative int")
		}
		mask := ^uint64(0) >> (64 - 8*uint(n))
		enc := readBigEndian(data[1:1+n], n)
		mag := mask - enc
		return -int64(mag), data[1+n:], nil
	}
}

func decodeBytesLike(data []byte) ([]byte, []byte, error) {
	var out []byte
	i := 0
	for {
		if i >= len(data) {
			return nil, nil, fmt.Errorf("tuple: unterminated byte/string element")
		}
		c := data[i]
		if c == 0x00 {
			if i+1 < len(data) && data[i+1] == 0xFF {
				out = append(out, 0x00)
				i += 2
				continue
			}
			return out, data[i+1:], nil
		}
		out = append(out, c)
		i++
	}
}

func readBigEndian(b []byte, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
