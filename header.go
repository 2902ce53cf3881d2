package lerc

import (
	"encoding/binary"
	"hash/crc32"
	"math"
)

const (
	magic         = "LeRC"
	formatVersion = 1

	// headerSize is the fixed header length; tile blocks follow it.
	headerSize = 57
	// trailerSize covers the CRC-32C and the total length.
	trailerSize = 12

	// maxBlobSize bounds the inner length an envelope may declare.
	maxBlobSize = 1 << 40
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type header struct {
	version    uint8
	typ        DataType
	bands      int
	width      int
	height     int
	maxError   float64
	hasMask    bool
	depth      int
	tileSize   int
	validCount int
	min, max   float64
	blobSize   uint64
}

func (h *header) appendTo(dst []byte) []byte {
	le := binary.LittleEndian
	dst = append(dst, magic...)
	dst = append(dst, formatVersion, byte(h.typ))
	dst = le.AppendUint16(dst, uint16(h.bands))
	dst = le.AppendUint32(dst, uint32(h.width))
	dst = le.AppendUint32(dst, uint32(h.height))
	dst = le.AppendUint64(dst, math.Float64bits(h.maxError))
	flag := byte(0)
	if h.hasMask {
		flag = 1
	}
	dst = append(dst, flag)
	dst = le.AppendUint16(dst, uint16(h.depth))
	dst = le.AppendUint16(dst, uint16(h.tileSize))
	dst = le.AppendUint32(dst, uint32(h.validCount))
	dst = le.AppendUint64(dst, math.Float64bits(h.min))
	dst = le.AppendUint64(dst, math.Float64bits(h.max))
	return le.AppendUint64(dst, h.blobSize)
}

// parseHeader reads the fixed header. It checks magic and version but not
// the consistency of the fields; see checkBlob.
func parseHeader(data []byte) (header, error) {
	var h header
	if len(data) < len(magic) {
		return h, truncatedf("read header: short magic")
	}
	if string(data[:len(magic)]) != magic {
		return h, unsupportedf("bad magic %q", data[:len(magic)])
	}
	if len(data) < len(magic)+1 {
		return h, truncatedf("read header: missing version")
	}
	h.version = data[len(magic)]
	if h.version != formatVersion {
		return h, unsupportedf("format version %d", h.version)
	}
	if len(data) < headerSize {
		return h, truncatedf("read header: have %d bytes, need %d", len(data), headerSize)
	}

	pos := len(magic) + 1
	le := binary.LittleEndian
	readU8 := func() uint8 {
		v := data[pos]
		pos++
		return v
	}
	readU16 := func() uint16 {
		v := le.Uint16(data[pos:])
		pos += 2
		return v
	}
	readU32 := func() uint32 {
		v := le.Uint32(data[pos:])
		pos += 4
		return v
	}
	readU64 := func() uint64 {
		v := le.Uint64(data[pos:])
		pos += 8
		return v
	}

	h.typ = DataType(readU8())
	h.bands = int(readU16())
	h.width = int(readU32())
	h.height = int(readU32())
	h.maxError = math.Float64frombits(readU64())
	flag := readU8()
	h.depth = int(readU16())
	h.tileSize = int(readU16())
	h.validCount = int(readU32())
	h.min = math.Float64frombits(readU64())
	h.max = math.Float64frombits(readU64())
	h.blobSize = readU64()
	if flag > 1 {
		return h, corruptf("mask flag %d", flag)
	}
	h.hasMask = flag == 1
	return h, nil
}

// check reports header fields that no encoder produces.
func (h *header) check() error {
	r := Raster{Width: h.width, Height: h.height, Bands: h.bands, Depth: h.depth, Type: h.typ}
	if err := r.checkExtent(); err != nil {
		return corruptf("header: %v", err)
	}
	switch {
	case h.tileSize < 1 || h.tileSize > MaxTileSize:
		return corruptf("header: tile size %d", h.tileSize)
	case math.IsNaN(h.maxError) || math.IsInf(h.maxError, 0) || h.maxError < 0:
		return corruptf("header: max error %v", h.maxError)
	case h.validCount > h.width*h.height:
		return corruptf("header: %d valid pixels in %dx%d", h.validCount, h.width, h.height)
	case !h.hasMask && h.validCount != h.width*h.height:
		return corruptf("header: %d valid pixels without a mask", h.validCount)
	}
	return nil
}

// checkBlob validates the container framing of data and returns its header
// and the tile block region. Bytes past the declared blob size are ignored.
func checkBlob(data []byte) (header, []byte, error) {
	h, err := parseHeader(data)
	if err != nil {
		return h, nil, err
	}
	if h.blobSize < headerSize+trailerSize {
		return h, nil, corruptf("blob size %d below minimum", h.blobSize)
	}
	if uint64(len(data)) < h.blobSize {
		return h, nil, truncatedf("have %d bytes, blob declares %d", len(data), h.blobSize)
	}
	data = data[:h.blobSize]
	end := len(data) - trailerSize
	if total := binary.LittleEndian.Uint64(data[end+4:]); total != h.blobSize {
		return h, nil, corruptf("trailer length %d, header %d", total, h.blobSize)
	}
	if sum := crc32.Checksum(data[:end], castagnoli); sum != binary.LittleEndian.Uint32(data[end:]) {
		return h, nil, corruptf("checksum mismatch")
	}
	if err := h.check(); err != nil {
		return h, nil, err
	}
	return h, data[headerSize:end], nil
}

// appendTrailer appends the checksum of blob and its final length.
func appendTrailer(blob []byte) []byte {
	sum := crc32.Checksum(blob, castagnoli)
	blob = binary.LittleEndian.AppendUint32(blob, sum)
	return binary.LittleEndian.AppendUint64(blob, uint64(len(blob)+8))
}

// Info describes an encoded blob.
type Info struct {
	Version     int
	Type        DataType
	Width       int
	Height      int
	Bands       int
	Depth       int
	ValidPixels int
	// BlobSize is the size of the container, before any envelope.
	BlobSize int
	Min, Max float64
	MaxError float64
	HasMask  bool
	TileSize int
	Envelope Envelope
}

// GetInfo returns the header of an encoded blob without decoding its tiles.
// The checksum is verified.
func GetInfo(data []byte) (Info, error) {
	inner, env, err := unwrapEnvelope(data)
	if err != nil {
		return Info{}, err
	}
	h, _, err := checkBlob(inner)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Version:     int(h.version),
		Type:        h.typ,
		Width:       h.width,
		Height:      h.height,
		Bands:       h.bands,
		Depth:       h.depth,
		ValidPixels: h.validCount,
		BlobSize:    int(h.blobSize),
		Min:         h.min,
		Max:         h.max,
		MaxError:    h.maxError,
		HasMask:     h.hasMask,
		TileSize:    h.tileSize,
		Envelope:    env,
	}, nil
}
