package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

// MaxJSONBody caps request bodies decoded by DecodeJSON.
const MaxJSONBody = 1 << 20

// ParseID reads a numeric route parameter.
func ParseID(ps httprouter.Params, name string) (int64, error) {
	raw := ps.ByName(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// DecodeJSON decodes a size-limited request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, MaxJSONBody)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("empty request body")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return nil
}
