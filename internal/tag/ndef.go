package tag

import (
	"errors"
	"strings"
	"unicode/utf16"
)

// Record type names of the NFC Forum well-known records we handle.
const (
	RecordTypeText = "T"
	RecordTypeURI  = "U"
)

// Record is a single NDEF well-known record.
type Record struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload"`
}

var errShortPayload = errors.New("ndef: text record payload shorter than its language code")

// TextRecord builds a UTF-8 text record with the given language code.
func TextRecord(text, lang string) Record {
	if lang == "" {
		lang = "en"
	}
	if len(lang) > 0x3f {
		lang = lang[:0x3f]
	}
	payload := make([]byte, 0, 1+len(lang)+len(text))
	payload = append(payload, byte(len(lang)))
	payload = append(payload, lang...)
	payload = append(payload, text...)
	return Record{Type: RecordTypeText, Payload: payload}
}

// TextFromPayload strips the status byte and language code prefix from a
// text record payload and returns the text.
func TextFromPayload(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	status := payload[0]
	langLen := int(status & 0x3f)
	if 1+langLen > len(payload) {
		return "", errShortPayload
	}
	body := payload[1+langLen:]
	if status&0x80 == 0 {
		return string(body), nil
	}

	// UTF-16, big endian unless a BOM says otherwise.
	littleEndian := false
	if len(body) >= 2 {
		switch {
		case body[0] == 0xfe && body[1] == 0xff:
			body = body[2:]
		case body[0] == 0xff && body[1] == 0xfe:
			body = body[2:]
			littleEndian = true
		}
	}
	units := make([]uint16, 0, len(body)/2)
	for i := 0; i+1 < len(body); i += 2 {
		if littleEndian {
			units = append(units, uint16(body[i])|uint16(body[i+1])<<8)
		} else {
			units = append(units, uint16(body[i])<<8|uint16(body[i+1]))
		}
	}
	return string(utf16.Decode(units)), nil
}

// uriPrefixes is the NFC Forum URI identifier code table.
var uriPrefixes = []string{
	"",
	"http://www.",
	"https://www.",
	"http://",
	"https://",
	"tel:",
	"mailto:",
	"ftp://anonymous:anonymous@",
	"ftp://ftp.",
	"ftps://",
	"sftp://",
	"smb://",
	"nfs://",
	"ftp://",
	"dav://",
	"news:",
	"telnet://",
	"imap:",
	"rtsp://",
	"urn:",
	"pop:",
	"sip:",
	"sips:",
	"tftp:",
	"btspp://",
	"btl2cap://",
	"btgoep://",
	"tcpobex://",
	"irdaobex://",
	"file://",
	"urn:epc:id:",
	"urn:epc:tag:",
	"urn:epc:pat:",
	"urn:epc:raw:",
	"urn:epc:",
	"urn:nfc:",
}

// URIRecord builds a URI record, abbreviating the longest known prefix.
func URIRecord(uri string) Record {
	code, rest := 0, uri
	for i := 1; i < len(uriPrefixes); i++ {
		p := uriPrefixes[i]
		if strings.HasPrefix(uri, p) && len(p) > len(uriPrefixes[code]) {
			code, rest = i, uri[len(p):]
		}
	}
	payload := make([]byte, 0, 1+len(rest))
	payload = append(payload, byte(code))
	payload = append(payload, rest...)
	return Record{Type: RecordTypeURI, Payload: payload}
}

// URIFromPayload expands the identifier code of a URI record payload.
// Unknown codes are treated as no prefix.
func URIFromPayload(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	code := int(payload[0])
	if code >= len(uriPrefixes) {
		code = 0
	}
	return uriPrefixes[code] + string(payload[1:])
}
