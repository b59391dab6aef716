package extract

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"pkb/internal/modelregistry"
)

const whisperModelName = "speech-transcriber"

// Transcribe loads (or reuses) the whisper model registered under
// modelPath and transcribes the WAV file at audioPath.
func Transcribe(ctx context.Context, registry *modelregistry.Registry, modelPath, audioPath string) (string, error) {
	loaded, err := registry.GetOrLoad(ctx, whisperModelName, func(context.Context) (any, error) {
		return whisper.New(modelPath)
	})
	if err != nil {
		return "", fmt.Errorf("load whisper model: %w", err)
	}
	model := loaded.(whisper.Model)

	samples, err := loadWAVFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("load audio %s: %w", audioPath, err)
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create whisper context: %w", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcribe %s: %w", audioPath, err)
	}

	var segments []string
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		segments = append(segments, strings.TrimSpace(segment.Text))
	}
	return strings.Join(segments, " "), nil
}

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// loadWAVFile reads a PCM WAV file into mono float32 samples in [-1, 1], as
// expected by whisper.cpp. It does not resample: callers are expected to
// feed 16kHz audio, matching the upstream model's training data.
func loadWAVFile(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header wavHeader
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	data := make([]byte, header.Subchunk2Size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("read audio data: %w", err)
	}

	var samples []float32
	switch header.BitsPerSample {
	case 16:
		for i := 0; i+1 < len(data); i += 2 {
			samples = append(samples, float32(int16(binary.LittleEndian.Uint16(data[i:i+2])))/32768.0)
		}
	case 32:
		for i := 0; i+3 < len(data); i += 4 {
			bits := binary.LittleEndian.Uint32(data[i : i+4])
			samples = append(samples, math.Float32frombits(bits))
		}
	default:
		return nil, fmt.Errorf("unsupported bits per sample: %d", header.BitsPerSample)
	}

	if header.NumChannels == 2 {
		mono := make([]float32, len(samples)/2)
		for i := range mono {
			mono[i] = (samples[i*2] + samples[i*2+1]) / 2.0
		}
		samples = mono
	}

	return samples, nil
}
