package utils

import (
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// ReadUpload 读取 multipart 表单中的单个文件，返回文件名、内容与 Content-Type
func ReadUpload(r *http.Request, field string, limit int64) (string, []byte, string, error) {
	if err := r.ParseMultipartForm(limit); err != nil {
		return "", nil, "", errors.Wrap(err, "invalid multipart form")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, "", errors.Errorf("%s file is required", field)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return "", nil, "", errors.Wrap(err, "read upload")
	}
	if int64(len(data)) > limit {
		return "", nil, "", errors.Errorf("%s file too large", field)
	}
	return header.Filename, data, header.Header.Get("Content-Type"), nil
}
