package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/multierr"
)

const exportChunk = 64 * 1024

// ExportFiles 把录音导出到 target：单个文件直接复制，多个文件按顺序拼接成一个 WAV
func ExportFiles(paths []string, target string) error {
	if len(paths) == 0 {
		return ErrNothingToExport
	}
	if dir := filepath.Dir(target); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	if len(paths) == 1 {
		return copyFile(paths[0], target)
	}
	return concatWAV(paths, target)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dst, cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}

// wavJoiner 把多个同格式 WAV 依次写入同一个编码器
type wavJoiner struct {
	out    *os.File
	enc    *wav.Encoder
	format *goaudio.Format
}

func concatWAV(paths []string, target string) (err error) {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	j := &wavJoiner{out: out}
	defer func() {
		if j.enc != nil {
			err = multierr.Append(err, j.enc.Close())
		}
		err = multierr.Append(err, out.Close())
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	for _, path := range paths {
		if err := j.append(path); err != nil {
			return err
		}
	}
	return nil
}

func (j *wavJoiner) append(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return fmt.Errorf("failed to decode %s: invalid WAV file", path)
	}

	format := &goaudio.Format{SampleRate: int(dec.SampleRate), NumChannels: int(dec.NumChans)}
	switch {
	case j.format == nil:
		j.format = format
		j.enc = wav.NewEncoder(j.out, format.SampleRate, int(dec.BitDepth), format.NumChannels, pcmFormat)
		// 先写出文件头，全部输入都为空时结果仍是合法的 WAV
		if err := j.enc.Write(&goaudio.IntBuffer{Data: []int{}, Format: format, SourceBitDepth: int(dec.BitDepth)}); err != nil {
			return fmt.Errorf("failed to write WAV header: %w", err)
		}
	case j.format.SampleRate != format.SampleRate || j.format.NumChannels != format.NumChannels:
		return fmt.Errorf("%w: %s is %dHz/%dch", ErrFormatMismatch, path, format.SampleRate, format.NumChannels)
	}

	buf := &goaudio.IntBuffer{Data: make([]int, exportChunk), Format: format}
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if n == 0 {
			return nil
		}
		chunk := &goaudio.IntBuffer{Data: buf.Data[:n], Format: format, SourceBitDepth: int(dec.BitDepth)}
		if err := j.enc.Write(chunk); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
}

// DeleteTempFiles 删除临时录音文件，不存在的文件视为已删除
func DeleteTempFiles(paths []string, logger *slog.Logger) error {
	var err error
	for _, p := range paths {
		if rerr := os.Remove(p); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = multierr.Append(err, fmt.Errorf("failed to delete %s: %w", p, rerr))
			continue
		}
		if logger != nil {
			logger.Debug("Temporary recording deleted", "path", p)
		}
	}
	return err
}
