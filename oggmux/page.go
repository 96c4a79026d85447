package oggmux

import (
	"encoding/binary"
	"fmt"
)

// Page header type flags
const (
	// PageFlagContinued page continues a packet from the previous page
	PageFlagContinued byte = 0x01
	// PageFlagBOS first page of a logical bitstream
	PageFlagBOS byte = 0x02
	// PageFlagEOS last page of a logical bitstream
	PageFlagEOS byte = 0x04
)

const (
	pageCapturePattern = "OggS"
	pageHeaderLen      = 27
	maxLacingValues    = 255
	// MaxPacketSize largest packet that fits on a single page
	MaxPacketSize = maxLacingValues*255 - 1
)

var crcTable [256]uint32

func init() {
	for idx := range crcTable {
		r := uint32(idx) << 24
		for bit := 0; bit < 8; bit++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		crcTable[idx] = r
	}
}

// pageChecksum the Ogg CRC32 (poly 0x04c11db7, unreflected, zero init)
func pageChecksum(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// Page a single decoded Ogg page
type Page struct {
	// Flags header type flags
	Flags byte
	// Granule granule position
	Granule uint64
	// Serial logical bitstream serial number
	Serial uint32
	// Sequence page sequence number
	Sequence uint32
	// Checksum page CRC as stored
	Checksum uint32
	// Payload page body
	Payload []byte
}

/*
encodePage serialize a single packet as one Ogg page

	@param flags byte - header type flags
	@param granule uint64 - granule position
	@param serial uint32 - logical stream serial number
	@param sequence uint32 - page sequence number
	@param packet []byte - the packet
	@returns the page bytes
*/
func encodePage(flags byte, granule uint64, serial, sequence uint32, packet []byte) ([]byte, error) {
	if len(packet) > MaxPacketSize {
		return nil, fmt.Errorf(
			"%w: %d bytes exceeds single page limit of %d", ErrPacketTooLarge, len(packet), MaxPacketSize,
		)
	}

	segments := len(packet)/255 + 1
	page := make([]byte, pageHeaderLen+segments+len(packet))

	copy(page[0:4], pageCapturePattern)
	page[4] = 0
	page[5] = flags
	binary.LittleEndian.PutUint64(page[6:14], granule)
	binary.LittleEndian.PutUint32(page[14:18], serial)
	binary.LittleEndian.PutUint32(page[18:22], sequence)
	// checksum [22:26] stays zero until computed
	page[26] = byte(segments)

	// Lacing values
	remain := len(packet)
	for idx := 0; idx < segments; idx++ {
		if remain >= 255 {
			page[pageHeaderLen+idx] = 255
			remain -= 255
		} else {
			page[pageHeaderLen+idx] = byte(remain)
		}
	}
	copy(page[pageHeaderLen+segments:], packet)

	binary.LittleEndian.PutUint32(page[22:26], pageChecksum(page))
	return page, nil
}

/*
ParsePage decode one Ogg page from the start of a buffer

	@param buf []byte - buffer starting with an Ogg page
	@returns the page, and the number of bytes consumed
*/
func ParsePage(buf []byte) (Page, int, error) {
	if len(buf) < pageHeaderLen {
		return Page{}, 0, fmt.Errorf("short page header: %d bytes", len(buf))
	}
	if string(buf[0:4]) != pageCapturePattern {
		return Page{}, 0, fmt.Errorf("missing capture pattern")
	}
	if buf[4] != 0 {
		return Page{}, 0, fmt.Errorf("unsupported page version %d", buf[4])
	}
	segments := int(buf[26])
	if len(buf) < pageHeaderLen+segments {
		return Page{}, 0, fmt.Errorf("short segment table")
	}
	bodyLen := 0
	for idx := 0; idx < segments; idx++ {
		bodyLen += int(buf[pageHeaderLen+idx])
	}
	total := pageHeaderLen + segments + bodyLen
	if len(buf) < total {
		return Page{}, 0, fmt.Errorf("short page body: want %d have %d", total, len(buf))
	}

	result := Page{
		Flags:    buf[5],
		Granule:  binary.LittleEndian.Uint64(buf[6:14]),
		Serial:   binary.LittleEndian.Uint32(buf[14:18]),
		Sequence: binary.LittleEndian.Uint32(buf[18:22]),
		Checksum: binary.LittleEndian.Uint32(buf[22:26]),
		Payload:  buf[pageHeaderLen+segments : total],
	}

	// Verify the checksum
	check := make([]byte, total)
	copy(check, buf[:total])
	check[22], check[23], check[24], check[25] = 0, 0, 0, 0
	if computed := pageChecksum(check); computed != result.Checksum {
		return Page{}, 0, fmt.Errorf("page checksum mismatch: %08x != %08x", computed, result.Checksum)
	}

	return result, total, nil
}

/*
ParsePages decode a buffer of back to back Ogg pages

	@param buf []byte - buffer of pages
	@returns the pages in order
*/
func ParsePages(buf []byte) ([]Page, error) {
	result := []Page{}
	for len(buf) > 0 {
		page, used, err := ParsePage(buf)
		if err != nil {
			return nil, err
		}
		result = append(result, page)
		buf = buf[used:]
	}
	return result, nil
}
