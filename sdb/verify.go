package sdb

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/hupe1980/nodedb/internal/mmap"
)

// QuickVerify checks the header and the footer hash of the dump in c
// without decoding its sections. The carrier is left at its end.
func QuickVerify(c Carrier) (Header, error) {
	size, err := c.Seek(0, io.SeekEnd)
	if err != nil {
		return Header{}, err
	}
	if size < HeaderSize+FooterSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrTruncated, size)
	}
	if _, err := c.Seek(0, io.SeekStart); err != nil {
		return Header{}, err
	}

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(c, buf); err != nil {
		return Header{}, fmt.Errorf("%w: header: %w", ErrTruncated, err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return h, err
	}

	d := sha3.New256()
	d.Write(buf)
	if _, err := io.CopyN(d, c, size-HeaderSize-FooterSize); err != nil {
		return h, fmt.Errorf("%w: body: %w", ErrTruncated, err)
	}
	footer := make([]byte, FooterSize)
	if _, err := io.ReadFull(c, footer); err != nil {
		return h, fmt.Errorf("%w: footer: %w", ErrTruncated, err)
	}
	return h, checkFooter(footer, d.Sum(nil))
}

// QuickVerifyFile is QuickVerify over a memory-mapped file.
func QuickVerifyFile(path string) (Header, error) {
	m, err := mmap.Open(path, mmap.AccessSequential)
	if err != nil {
		return Header{}, err
	}
	defer m.Close()
	return QuickVerifyBytes(m.Bytes())
}

// QuickVerifyBytes is QuickVerify over a dump held in memory.
func QuickVerifyBytes(data []byte) (Header, error) {
	if len(data) < HeaderSize+FooterSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	h, err := decodeHeader(data[:HeaderSize])
	if err != nil {
		return h, err
	}
	body := len(data) - FooterSize
	sum := sha3.Sum256(data[:body])
	return h, checkFooter(data[body:], sum[:])
}

func checkFooter(footer, sum []byte) error {
	if [magicLen]byte(footer[:magicLen]) != endMagic {
		return fmt.Errorf("%w: end magic %q", ErrBadMagic, footer[:magicLen])
	}
	if !bytes.Equal(footer[magicLen:], sum) {
		return ErrHashMismatch
	}
	return nil
}
