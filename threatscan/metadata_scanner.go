package threatscan

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/rwcarlsen/goexif/exif"
)

// builtinScannedFields are the free-text metadata fields inspected for
// injected code. Viewers render these without escaping surprisingly often.
var builtinScannedFields = []string{
	"ImageDescription",
	"UserComment",
	"Artist",
	"Software",
	"Copyright",
	"XPTitle",
	"XPComment",
	"XPAuthor",
	"XPSubject",
	"XPKeywords",
}

// metadataURISchemes are schemes flagged inside metadata text fields.
var metadataURISchemes = []string{"javascript:", "vbscript:", "data:text/html"}

// jpegEOI is the JPEG end-of-image marker.
var jpegEOI = []byte{0xFF, 0xD9}

// MetadataScanner inspects embedded descriptive metadata in raster images
// for injected code and privacy-sensitive positioning data, and scans the
// bytes trailing the image-end marker, which viewers ignore but a script
// interpreter would not.
type MetadataScanner struct {
	access *AccessValidator
	ident  *Identifier
}

// NewMetadataScanner constructs the scanner with its collaborators.
func NewMetadataScanner(access *AccessValidator, ident *Identifier) *MetadataScanner {
	return &MetadataScanner{access: access, ident: ident}
}

// Scan validates access, reads the file and runs the detection passes.
func (s *MetadataScanner) Scan(path string, pol Policy) *Result {
	res := NewResult()
	if d := s.access.Validate(path); !d.Allowed {
		res.AddThreat("access denied: %s", d.Reason)
		return res
	}
	data, err := os.ReadFile(path)
	if err != nil {
		res.AddThreat("file could not be read: %v", err)
		return res
	}
	return s.ScanBytes(data, pol)
}

// ScanBytes runs the detection passes over in-memory content.
func (s *MetadataScanner) ScanBytes(data []byte, pol Policy) *Result {
	res := NewResult()
	if !pol.Metadata.Enabled {
		return res
	}

	prefix := data
	if len(prefix) > SniffLen {
		prefix = prefix[:SniffLen]
	}
	mediaType := s.ident.Identify(prefix)
	if !IsRasterImageType(mediaType) {
		res.AddThreat("not a valid raster image")
		return res
	}
	res.MediaType = mediaType

	s.scanExifFields(data, pol.Metadata, res)
	s.scanTrailingBytes(data, mediaType, res)
	return res
}

// scanExifFields decodes embedded EXIF metadata and inspects the
// configured free-text fields plus GPS presence. Images without EXIF data
// are fine; decode failures are not findings.
func (s *MetadataScanner) scanExifFields(data []byte, pol MetadataPolicy, res *Result) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}

	fields := pol.ScannedFields
	if len(fields) == 0 {
		fields = builtinScannedFields
	}

	matcher := newFunctionMatcher(paranoidDangerousFunctions)
	for _, field := range fields {
		tag, err := x.Get(exif.FieldName(field))
		if err != nil || tag == nil {
			continue
		}
		value, err := tag.StringVal()
		if err != nil {
			value = tag.String()
		}
		if value == "" {
			continue
		}

		text := []byte(value)
		for _, opener := range findScriptOpenTags(text) {
			res.AddThreat("script marker in metadata field %s: %s", field, opener)
		}
		for _, name := range matcher.Matches(text) {
			res.AddThreat("dangerous function in metadata field %s: %s", field, name)
		}
		for _, scheme := range findURISchemes(text, metadataURISchemes) {
			res.AddThreat("dangerous URI scheme in metadata field %s: %s", field, scheme)
		}
	}

	if _, _, err := x.LatLong(); err == nil {
		res.HasGPS = true
		if pol.BlockGPS {
			res.AddThreat("GPS positioning metadata detected")
		}
	}
}

// scanTrailingBytes inspects content after the format's end-of-image
// marker for script markers and dangerous function fragments.
func (s *MetadataScanner) scanTrailingBytes(data []byte, mediaType string, res *Result) {
	trailing := trailingAfterEOI(data, mediaType)
	if len(trailing) == 0 {
		return
	}

	for _, opener := range findScriptOpenTags(trailing) {
		res.AddThreat("script marker after image end marker: %s", opener)
	}
	matcher := newFunctionMatcher(paranoidDangerousFunctions)
	for _, name := range matcher.Matches(trailing) {
		res.AddThreat("dangerous function after image end marker: %s", name)
	}
}

// trailingAfterEOI returns the bytes following the end-of-image marker, or
// nil when the format has no defined marker or none was found. Both walkers
// follow the format structure rather than searching for marker bytes, so a
// payload cannot move the boundary by appending a second end marker or by
// carrying the marker bytes inside compressed data.
func trailingAfterEOI(data []byte, mediaType string) []byte {
	switch mediaType {
	case "image/jpeg":
		return jpegTrailing(data)
	case "image/png":
		return pngTrailing(data)
	}
	return nil
}

// jpegTrailing walks the JPEG segment stream from SOI to the EOI that
// terminates it. Application segments are skipped whole, so thumbnail EOIs
// embedded in EXIF data never end the walk; after SOS the entropy-coded
// data runs to the first unstuffed EOI marker.
func jpegTrailing(data []byte) []byte {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	i := 2
	for i+1 < len(data) {
		if data[i] != 0xFF {
			return nil
		}
		marker := data[i+1]
		switch {
		case marker == 0xFF:
			// Fill byte before a marker.
			i++
		case marker == 0xD9:
			return data[i+2:]
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD8):
			// Standalone markers carry no length.
			i += 2
		case marker == 0xDA:
			// Start of scan: skip the header, then scan the entropy-coded
			// data. Stuffed 0xFF bytes are followed by 0x00 or a restart
			// marker, never 0xD9, so the first EOI found is the real one.
			if i+3 >= len(data) {
				return nil
			}
			segLen := int(data[i+2])<<8 | int(data[i+3])
			if segLen < 2 {
				return nil
			}
			idx := bytes.Index(data[i+2+segLen:], jpegEOI)
			if idx < 0 {
				return nil
			}
			return data[i+2+segLen+idx+len(jpegEOI):]
		default:
			if i+3 >= len(data) {
				return nil
			}
			segLen := int(data[i+2])<<8 | int(data[i+3])
			if segLen < 2 {
				return nil
			}
			i += 2 + segLen
		}
	}
	return nil
}

// pngTrailing walks the PNG chunk sequence to the IEND chunk. Matching on
// chunk headers means "IEND" bytes occurring inside IDAT data are passed
// over.
func pngTrailing(data []byte) []byte {
	const sigLen = 8
	if len(data) < sigLen {
		return nil
	}
	i := sigLen
	for i+8 <= len(data) {
		length := binary.BigEndian.Uint32(data[i : i+4])
		next := i + 8 + int(length) + 4
		if next < i || next > len(data) {
			return nil
		}
		if bytes.Equal(data[i+4:i+8], []byte("IEND")) {
			return data[next:]
		}
		i = next
	}
	return nil
}
