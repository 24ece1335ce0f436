package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidChunkConfig 表示分块参数无法让窗口前进。
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// ValidateChunkConfig checks that a window of size with the given overlap always advances.
func ValidateChunkConfig(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidChunkConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunkConfig, overlap, size)
	}
	return nil
}

// Chunk 将文本按固定字符窗口切分，相邻分块重叠 overlap 个字符。
// 窗口以 rune 计数；最后一个分块可能短于 size。空文本返回空切片。
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := ValidateChunkConfig(size, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{}, nil
	}

	step := size - overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
