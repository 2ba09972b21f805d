package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Record encodings are versioned so on-disk/remote state can outlive a
// library upgrade. All integers are big-endian; strings are uint16
// length-prefixed.

const (
	tokenRecordVersion1     = 1
	challengeRecordVersion1 = 1
	sessionRecordVersion1   = 1

	maxEncodedString = 65535
)

var errRecordVersion = errors.New("unsupported record version")

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxEncodedString {
		return errors.New("string field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func encodeToken(t *Token) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tokenRecordVersion1)

	for _, s := range []string{t.ID, t.Owner, t.Secret} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(byte(t.Kind))
	buf.WriteByte(byte(t.State))
	for _, v := range []int64{t.Counter, t.LastSuccessAt, t.LockedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	for _, v := range []uint32{
		uint32(t.FailCount),
		uint32(t.MaxFail),
		uint32(t.LockoutSeconds),
		uint32(t.SyncWindow),
		uint32(t.Priority),
	} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, t.Version); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeToken(data []byte) (*Token, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersion1 {
		return nil, errRecordVersion
	}

	t := &Token{}
	if t.ID, err = readString(r); err != nil {
		return nil, err
	}
	if t.Owner, err = readString(r); err != nil {
		return nil, err
	}
	if t.Secret, err = readString(r); err != nil {
		return nil, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	t.Kind = TokenKind(kind)
	state, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	t.State = TokenState(state)
	for _, dst := range []*int64{&t.Counter, &t.LastSuccessAt, &t.LockedAt} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	var u32 [5]uint32
	for i := range u32 {
		if err := binary.Read(r, binary.BigEndian, &u32[i]); err != nil {
			return nil, err
		}
	}
	t.FailCount = int(u32[0])
	t.MaxFail = int(u32[1])
	t.LockoutSeconds = int(u32[2])
	t.SyncWindow = int(u32[3])
	t.Priority = int(u32[4])
	if err := binary.Read(r, binary.BigEndian, &t.Version); err != nil {
		return nil, err
	}
	return t, nil
}

func encodeChallenge(c *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	for _, s := range []string{c.TransactionID, c.TokenID, c.Owner, c.Prompt} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	buf.Write(c.ResponseHash[:])
	buf.WriteByte(byte(c.State))
	for _, v := range []int64{c.IssuedAt, c.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(c.Attempts)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, c.Version); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errRecordVersion
	}

	c := &Challenge{}
	if c.TransactionID, err = readString(r); err != nil {
		return nil, err
	}
	if c.TokenID, err = readString(r); err != nil {
		return nil, err
	}
	if c.Owner, err = readString(r); err != nil {
		return nil, err
	}
	if c.Prompt, err = readString(r); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, c.ResponseHash[:]); err != nil {
		return nil, err
	}
	state, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	c.State = ChallengeState(state)
	for _, dst := range []*int64{&c.IssuedAt, &c.ExpiresAt} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	var attempts uint32
	if err := binary.Read(r, binary.BigEndian, &attempts); err != nil {
		return nil, err
	}
	c.Attempts = int(attempts)
	if err := binary.Read(r, binary.BigEndian, &c.Version); err != nil {
		return nil, err
	}
	return c, nil
}

func encodeSession(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionRecordVersion1)

	for _, str := range []string{s.ID, s.Owner} {
		if err := writeString(&buf, str); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(byte(len(s.RequiredKinds)))
	for _, k := range s.RequiredKinds {
		buf.WriteByte(byte(k))
	}
	buf.WriteByte(byte(len(s.Satisfied)))
	for k, tokenID := range s.Satisfied {
		buf.WriteByte(byte(k))
		if err := writeString(&buf, tokenID); err != nil {
			return nil, err
		}
	}
	var closed byte
	if s.Closed {
		closed = 1
	}
	buf.WriteByte(closed)
	for _, v := range []int64{s.CreatedAt, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, s.Version); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionRecordVersion1 {
		return nil, errRecordVersion
	}

	s := &Session{}
	if s.ID, err = readString(r); err != nil {
		return nil, err
	}
	if s.Owner, err = readString(r); err != nil {
		return nil, err
	}
	nKinds, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s.RequiredKinds = make([]TokenKind, 0, nKinds)
	for i := 0; i < int(nKinds); i++ {
		k, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		s.RequiredKinds = append(s.RequiredKinds, TokenKind(k))
	}
	nSat, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Satisfied = make(map[TokenKind]string, nSat)
	for i := 0; i < int(nSat); i++ {
		k, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		tokenID, err := readString(r)
		if err != nil {
			return nil, err
		}
		s.Satisfied[TokenKind(k)] = tokenID
	}
	closed, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Closed = closed == 1
	for _, dst := range []*int64{&s.CreatedAt, &s.ExpiresAt} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(r, binary.BigEndian, &s.Version); err != nil {
		return nil, err
	}
	return s, nil
}
