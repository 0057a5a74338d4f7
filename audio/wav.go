package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/BaSui01/visemeflow/types"
)

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
	// WAVE_FORMAT_EXTENSIBLE，读取时接受
	wavFormatExtensible = 0xFFFE
)

// EncodeWAV writes data as a canonical PCM RIFF/WAVE stream.
// len(data) must be a multiple of f.BlockAlign().
func EncodeWAV(w io.Writer, data []byte, f Format) error {
	if err := f.Validate(); err != nil {
		return types.NewSerializationError("invalid audio format", err)
	}
	if len(data)%f.BlockAlign() != 0 {
		return types.NewSerializationError(
			fmt.Sprintf("buffer length %d is not a multiple of block align %d", len(data), f.BlockAlign()), nil)
	}
	if uint64(len(data))+wavHeaderSize-8 > math.MaxUint32 {
		return types.NewSerializationError("buffer too large for a WAV file", nil)
	}

	header := make([]byte, wavHeaderSize)

	// RIFF header
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(data)))
	copy(header[8:12], "WAVE")

	// fmt chunk
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(header[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(header[34:36], uint16(f.BitsPerSample()))

	// data chunk
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return types.NewSerializationError("write wav header", err)
	}
	if _, err := w.Write(data); err != nil {
		return types.NewSerializationError("write wav data", err)
	}
	return nil
}

// WriteWAVFile materializes data as a WAV file at path, replacing any
// existing file. Failures surface as SERIALIZATION_ERROR.
func WriteWAVFile(path string, data []byte, f Format) (err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return types.NewSerializationError("create wav file", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = types.NewSerializationError("close wav file", cerr)
		}
	}()
	return EncodeWAV(file, data, f)
}

// ErrNotWAV 输入不是 RIFF/WAVE 流
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// DecodeWAV parses a PCM RIFF/WAVE stream and returns its sample data and
// format. Unknown chunks are skipped.
func DecodeWAV(r io.Reader) ([]byte, Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, Format{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, Format{}, errors.New("wav: missing data chunk")
			}
			return nil, Format{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := binary.LittleEndian.Uint32(ch[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("wav: fmt chunk too small (%d)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, Format{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			tag := binary.LittleEndian.Uint16(body[0:2])
			if tag != wavFormatPCM && tag != wavFormatExtensible {
				return nil, Format{}, fmt.Errorf("wav: unsupported format tag %#x", tag)
			}
			f = Format{
				Channels:    int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:  int(binary.LittleEndian.Uint32(body[4:8])),
				SampleWidth: int(binary.LittleEndian.Uint16(body[14:16])+7) / 8,
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("wav: data chunk before fmt chunk")
			}
			var buf bytes.Buffer
			if _, err := io.CopyN(&buf, r, int64(size)); err != nil {
				return nil, Format{}, fmt.Errorf("read data chunk: %w", err)
			}
			return buf.Bytes(), f, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, Format{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
		// 奇数长度的块后跟一个填充字节
		if size%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return nil, Format{}, fmt.Errorf("skip pad byte: %w", err)
			}
		}
	}
}

// ReadWAVFile reads and decodes a WAV file from disk.
func ReadWAVFile(path string) ([]byte, Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Format{}, err
	}
	defer file.Close()
	return DecodeWAV(file)
}
