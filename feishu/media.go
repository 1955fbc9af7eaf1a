package feishu

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/hazyhaar/coverbridge/horosafe"
)

// ParentTypeBitableImage is the upload point for images attached to a
// Bitable record.
const ParentTypeBitableImage = "bitable_image"

// UploadImage uploads raw bytes as a Bitable image and returns the file
// token to reference in an attachment field.
func (c *Client) UploadImage(ctx context.Context, data []byte, fileName string) (string, error) {
	name := horosafe.BaseName(fileName)
	if name == "" {
		return "", fmt.Errorf("feishu: %s: empty file name", opUploadMedia)
	}

	build := func(ctx context.Context, _ string) (*http.Request, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for _, kv := range [][2]string{
			{"file_name", name},
			{"parent_type", ParentTypeBitableImage},
			{"parent_node", c.creds.AppToken},
			{"size", strconv.Itoa(len(data))},
		} {
			if err := mw.WriteField(kv[0], kv[1]); err != nil {
				return nil, err
			}
		}
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/open-apis/drive/v1/medias/upload_all", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}

	var out struct {
		FileToken string `json:"file_token"`
	}
	if err := c.call(ctx, opUploadMedia, c.uploadTimeout, build, &out); err != nil {
		return "", err
	}
	if out.FileToken == "" {
		return "", &APIError{Op: opUploadMedia, Status: http.StatusOK, Code: -1, Msg: "missing file_token"}
	}
	c.logger.Debug("feishu: image uploaded", "file", name, "bytes", len(data))
	return out.FileToken, nil
}
