package gaoding

import (
	"errors"
	"time"
)

// WarningText is the instructions block Gaoding expects alone in A1,
// merged across A1:Z1. It is a layout requirement of the importer.
const WarningText = `⚠️填写需知：
1. 每一行表格的内容将填充成一份设计结果；
2. 请不要增加 ，删除，修改表头内容，避免Excel无法导入成功；
3. 请不要合并、拆分单元格，避免Excel无法导入成功；
4. 请将用到的图片文件与Excel放在同一个文件夹中，打成压缩包后上传；
5. 图片仅需填写文件名，无需填写图片后缀，但请确保图片文件名不重复；
6. 请注意文案的内容输入字数，过多的字数将会导致排版时溢出；
7. 当前批量套版仅支持最多147行数据；`

const (
	// SheetName is the single sheet name the importer looks up.
	SheetName = "文案表（横版）"

	// WorkbookFileName is the fixed name of the spreadsheet inside the
	// outer archive.
	WorkbookFileName = "稿定设计-数据上传.xlsx"

	// MaxRows is the importer's documented per-file limit. Exceeding it is
	// only logged; the importer truncates on its side.
	MaxRows = 147

	// HeaderRows is the number of fixed rows (warning + headers) before data.
	HeaderRows = 2

	mergeRange = "A1:Z1"
	appName    = "Feishu-Gaoding-Web"
)

// Column headers understood by the importer.
var (
	DefaultHeaders = []string{"页面", "文本_1"}
	CoverHeaders   = []string{"页面", "文本_1", "文本_2"}
)

// ErrInvalidHeaders is returned when the header count is not 2 or 3.
var ErrInvalidHeaders = errors.New("gaoding: headers must have 2 or 3 columns")

// ExportRow is one design to generate. Text2 is optional and only rendered
// when the sheet has a third header.
type ExportRow struct {
	Page  string  `json:"page"`
	Text1 string  `json:"text1"`
	Text2 *string `json:"text2,omitempty"`
}

// ExportFileName returns the download name used for an export made at t.
func ExportFileName(t time.Time) string {
	return "稿定设计-数据上传_" + t.Format("2006-01-02") + ".zip"
}
