package oggmux

// OpusHead identification header: version 1, 2 channels, pre-skip 3840, 48 kHz input rate,
// zero output gain, channel mapping family 0
var opusIdentificationHeader = []byte{
	0x4f, 0x70, 0x75, 0x73, 0x48, 0x65, 0x61, 0x64,
	0x01, 0x02, 0x00, 0x0f, 0x80, 0xbb, 0x00, 0x00,
	0x00, 0x00, 0x00,
}

// OpusTags comment header: vendor "node-opus", no user comments
var opusCommentHeader = []byte{
	0x4f, 0x70, 0x75, 0x73, 0x54, 0x61, 0x67, 0x73,
	0x09, 0x00, 0x00, 0x00,
	0x6e, 0x6f, 0x64, 0x65, 0x2d, 0x6f, 0x70, 0x75, 0x73,
	0x00, 0x00, 0x00, 0x00,
	0xff,
}

// OpusIdentificationHeader copy of the OpusHead packet written at the start of every track
func OpusIdentificationHeader() []byte {
	return append([]byte{}, opusIdentificationHeader...)
}

// OpusCommentHeader copy of the OpusTags packet written at the start of every track
func OpusCommentHeader() []byte {
	return append([]byte{}, opusCommentHeader...)
}
