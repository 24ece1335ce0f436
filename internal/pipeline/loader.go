package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"product-atlas/pkg/log"
	"product-atlas/pkg/tika"
)

// PDFExtractor turns a PDF file into plain text, one page per line group.
type PDFExtractor interface {
	ExtractPDF(ctx context.Context, path string) (string, error)
}

// Loader dispatches on file extension. Unsupported extensions load as "".
type Loader struct {
	pdf PDFExtractor
}

// NewLoader 创建一个文件加载器；pdf 为 nil 时使用内置解析器。
func NewLoader(pdf PDFExtractor) *Loader {
	if pdf == nil {
		pdf = NativePDFExtractor{}
	}
	return &Loader{pdf: pdf}
}

// Supported reports whether the file extension is one the loader understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".pdf":
		return true
	}
	return false
}

// Load 读取文件内容：.txt/.md 原样读取，.pdf 逐页提取文本，其他扩展名返回空字符串。
func (l *Loader) Load(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("读取文本文件失败: %w", err)
		}
		return string(data), nil
	case ".pdf":
		return l.pdf.ExtractPDF(ctx, path)
	default:
		return "", nil
	}
}

// NativePDFExtractor extracts text in-process with ledongthuc/pdf.
type NativePDFExtractor struct{}

// ExtractPDF joins per-page plain text with newlines. Pages without extractable text contribute "".
func (NativePDFExtractor) ExtractPDF(_ context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("打开 PDF 失败: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(make(map[string]*pdf.Font))
		if err != nil {
			log.Warnf("[Loader] PDF 第 %d 页文本提取失败, 按空页处理: %s, err=%v", i, path, err)
			text = ""
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}

// TikaExtractor delegates PDF extraction to an Apache Tika server.
type TikaExtractor struct {
	Client *tika.Client
}

func (e TikaExtractor) ExtractPDF(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取 PDF 失败: %w", err)
	}
	return e.Client.ExtractText(ctx, bytes.NewReader(data), filepath.Base(path))
}
