// Package decrypt implements the striped Blowfish-CBC scheme the CDN
// applies to audio streams. Only the first 2048 bytes of every 6144-byte
// segment are encrypted; the remaining 4096 pass through untouched.
package decrypt

import (
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/crypto/blowfish"

	"github.com/melodex/melodex-core/internal/errs"
)

const (
	encryptedChunkSize = 2048
	plainChunkSize     = 4096
	segmentSize        = encryptedChunkSize + plainChunkSize

	// bfSecret is the fixed stripe secret shared by every stream.
	bfSecret = "g4el58wc0zvf9na1"
)

// stripeIV is the fixed CBC initialization vector.
var stripeIV = []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}

// Key derives the 16-byte track key: the hex MD5 of the track ID is folded
// onto itself and XORed with the stripe secret.
func Key(trackID string) ([]byte, error) {
	if trackID == "" {
		return nil, errs.Decryption("track ID is empty", nil)
	}

	sum := md5.Sum([]byte(trackID))
	hexSum := hex.EncodeToString(sum[:])

	key := make([]byte, 16)
	for i := 0; i < 16; i++ {
		key[i] = hexSum[i] ^ hexSum[i+16] ^ bfSecret[i]
	}
	return key, nil
}

// Progress reports bytes processed against the total.
type Progress func(processed, total int64)

// DecryptFile streams src through the stripe decryptor into dst. The
// partial output is removed on failure. A fresh CBC decrypter is created
// per segment; the scheme resets the IV every stripe, so carrying cipher
// state across segments corrupts the audio.
func DecryptFile(srcPath, dstPath string, key []byte, progress Progress) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errs.Filesystem("opening encrypted stream", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return errs.Filesystem("inspecting encrypted stream", err)
	}
	total := info.Size()

	dst, err := os.Create(dstPath)
	if err != nil {
		return errs.Filesystem("creating decrypted output", err)
	}

	if err := decryptStream(src, dst, key, total, progress); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return errs.Filesystem("closing decrypted output", err)
	}
	return nil
}

func decryptStream(src io.Reader, dst io.Writer, key []byte, total int64, progress Progress) error {
	segment := make([]byte, segmentSize)
	decrypted := make([]byte, encryptedChunkSize)
	var processed int64

	for {
		n, err := io.ReadFull(src, segment)
		if n > 0 {
			if werr := writeSegment(dst, segment[:n], key, decrypted); werr != nil {
				return werr
			}
			processed += int64(n)
			if progress != nil {
				progress(processed, total)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return errs.Filesystem("reading encrypted stream", err)
		}
	}
}

// writeSegment decrypts the stripe head when present and passes the rest
// through. A tail shorter than one encrypted chunk is written as-is; the
// stream is only striped on full chunks.
func writeSegment(dst io.Writer, segment []byte, key, scratch []byte) error {
	if len(segment) < encryptedChunkSize {
		if _, err := dst.Write(segment); err != nil {
			return errs.Filesystem("writing stream tail", err)
		}
		return nil
	}

	block, err := blowfish.NewCipher(key)
	if err != nil {
		return errs.Decryption("creating stripe cipher", err)
	}
	cipher.NewCBCDecrypter(block, stripeIV).CryptBlocks(scratch, segment[:encryptedChunkSize])

	if _, err := dst.Write(scratch[:encryptedChunkSize]); err != nil {
		return errs.Filesystem("writing decrypted chunk", err)
	}
	if _, err := dst.Write(segment[encryptedChunkSize:]); err != nil {
		return errs.Filesystem("writing plain remainder", err)
	}
	return nil
}
