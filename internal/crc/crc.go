// Package crc implements the CRC-16/EN 13757 checksum used by Wireless
// M-Bus frame format A: polynomial 0x3D65, initial value 0x0000,
// non-reflected, final complement.
package crc

import "fmt"

const polynomial = 0x3D65

// Format A block layout: 10 header bytes + CRC, then 16-byte blocks,
// each followed by a 2-byte CRC (big endian on the wire).
const (
	firstBlockLen = 10
	dataBlockLen  = 16
	crcLen        = 2
)

var tbl = newTable(polynomial)

func newTable(poly uint16) (table [256]uint16) {
	for idx := range table {
		crc := uint16(idx) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc = crc << 1
			}
		}
		table[idx] = crc
	}
	return table
}

// Checksum computes the CRC-16/EN 13757 value of data.
func Checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ tbl[byte(crc>>8)^b]
	}
	return ^crc
}

// HasBlockCRC reports whether raw is sized like a format A frame with
// embedded block CRCs. The L-field never counts the CRC bytes, so a
// frame that already had them stripped satisfies len == L+1 instead.
func HasBlockCRC(raw []byte) bool {
	if len(raw) < firstBlockLen+crcLen {
		return false
	}
	return len(raw) == lenWithCRC(raw[0])
}

func lenWithCRC(lfield byte) int {
	total := int(lfield) + 1
	blocks := 1
	rest := total - firstBlockLen
	blocks += rest / dataBlockLen
	if rest%dataBlockLen != 0 {
		blocks++
	}
	return total + blocks*crcLen
}

// Validate recomputes every block CRC of a format A frame and reports
// whether all of them match. A frame too short to carry CRCs validates
// false; the caller decides whether to drop the telegram.
func Validate(raw []byte) bool {
	if !HasBlockCRC(raw) {
		return false
	}
	pos := 0
	blockLen := firstBlockLen
	for pos < len(raw) {
		if blockLen > len(raw)-pos-crcLen {
			blockLen = len(raw) - pos - crcLen
		}
		if blockLen <= 0 {
			return false
		}
		block := raw[pos : pos+blockLen]
		want := uint16(raw[pos+blockLen])<<8 | uint16(raw[pos+blockLen+1])
		if Checksum(block) != want {
			return false
		}
		pos += blockLen + crcLen
		blockLen = dataBlockLen
	}
	return true
}

// Strip removes the block CRCs from a format A frame without checking
// them, returning the plain frame addressed by the L-field.
func Strip(raw []byte) ([]byte, error) {
	if !HasBlockCRC(raw) {
		return nil, fmt.Errorf("frame length %d does not match format A block layout", len(raw))
	}
	out := make([]byte, 0, int(raw[0])+1)
	pos := 0
	blockLen := firstBlockLen
	for pos < len(raw) {
		if blockLen > len(raw)-pos-crcLen {
			blockLen = len(raw) - pos - crcLen
		}
		out = append(out, raw[pos:pos+blockLen]...)
		pos += blockLen + crcLen
		blockLen = dataBlockLen
	}
	return out, nil
}
