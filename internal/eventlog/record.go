package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)
// The header is a JSON recordHeader.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type recordHeader struct {
	Stream   string            `json:"s"`
	Version  uint64            `json:"v"`
	EventID  string            `json:"id"`
	Type     string            `json:"t"`
	TsMs     int64             `json:"ts"`
	Metadata map[string]string `json:"md,omitempty"`
}

func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

type Decoded struct {
	Header  []byte
	Payload []byte
}

// DecodeRecord validates length and checksum. Failures wrap ErrCorrupt.
func DecodeRecord(b []byte) (Decoded, error) {
	if len(b) < 1+4 {
		return Decoded{}, fmt.Errorf("%w: short record (%d bytes)", ErrCorrupt, len(b))
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || int(n)+int(hlen)+4 > len(b) {
		return Decoded{}, fmt.Errorf("%w: bad header length", ErrCorrupt)
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Decoded{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: append([]byte(nil), payload...)}, nil
}

func encodeEvent(h recordHeader, payload []byte) ([]byte, error) {
	hb, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return EncodeRecord(hb, payload), nil
}

func decodeEvent(seq uint64, value []byte) (StoredEvent, error) {
	dec, err := DecodeRecord(value)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("entry %d: %w", seq, err)
	}
	var h recordHeader
	if err := json.Unmarshal(dec.Header, &h); err != nil {
		return StoredEvent{}, fmt.Errorf("entry %d: %w: %v", seq, ErrCorrupt, err)
	}
	return StoredEvent{
		Stream:        h.Stream,
		StreamVersion: h.Version,
		Position:      TokenFromSeq(seq),
		TimestampMs:   h.TsMs,
		Data: EventData{
			EventID:  h.EventID,
			Type:     h.Type,
			Payload:  dec.Payload,
			Metadata: h.Metadata,
		},
	}, nil
}
