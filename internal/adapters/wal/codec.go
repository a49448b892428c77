package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ghalamif/TensileFlow/internal/domain"
)

var errShortRecord = errors.New("wal: short record")

// encodeSample lays a sample out as
// [2 channel len][channel][8 unix nanos][8 seq][8 value bits][2 transform ver][2 node len][node].
func encodeSample(s *domain.Sample) ([]byte, error) {
	if len(s.Channel) > math.MaxUint16 || len(s.SourceNodeID) > math.MaxUint16 {
		return nil, fmt.Errorf("wal: channel or node id too long")
	}
	buf := make([]byte, 0, 32+len(s.Channel)+len(s.SourceNodeID))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.Channel)))
	buf = append(buf, s.Channel...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.Timestamp.UnixNano()))
	buf = binary.BigEndian.AppendUint64(buf, s.Seq)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(s.Value))
	buf = binary.BigEndian.AppendUint16(buf, s.TransformVer)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.SourceNodeID)))
	buf = append(buf, s.SourceNodeID...)
	return buf, nil
}

func decodeSample(b []byte) (*domain.Sample, error) {
	var s domain.Sample
	str := func() (string, error) {
		if len(b) < 2 {
			return "", errShortRecord
		}
		n := int(binary.BigEndian.Uint16(b))
		b = b[2:]
		if len(b) < n {
			return "", errShortRecord
		}
		v := string(b[:n])
		b = b[n:]
		return v, nil
	}

	var err error
	if s.Channel, err = str(); err != nil {
		return nil, err
	}
	if len(b) < 26 {
		return nil, errShortRecord
	}
	s.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(b[0:8])))
	s.Seq = binary.BigEndian.Uint64(b[8:16])
	s.Value = math.Float64frombits(binary.BigEndian.Uint64(b[16:24]))
	s.TransformVer = binary.BigEndian.Uint16(b[24:26])
	b = b[26:]
	if s.SourceNodeID, err = str(); err != nil {
		return nil, err
	}
	return &s, nil
}
