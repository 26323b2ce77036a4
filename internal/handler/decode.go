package handler

import (
	"encoding/json"
	"errors"
	"io"
	"maps"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/schema"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/model"
)

// maxBodyBytes caps JSON and form bodies. Image uploads have their own limit.
const maxBodyBytes = 1 << 20

// formDecoder fills structs from url.Values using their `schema` tags.
// A schema.Decoder caches struct metadata, so one is shared.
var formDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// decodeBody reads a JSON or form-encoded request body into dst.
//
// dst needs both `json` and `schema` tags. Browsers and HTML forms post
// application/x-www-form-urlencoded; API clients post JSON. Anything that is
// not a form is treated as JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if mediaType := formMediaType(r); mediaType != "" {
		return decodeForm(r, mediaType, dst)
	}
	return decodeJSON(r, dst)
}

// formMediaType returns the request's media type when it is one of the two
// form encodings, and "" otherwise.
func formMediaType(r *http.Request) string {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return mediaType
	}
	return ""
}

// decodeJSON reads a JSON body into dst. An empty body decodes to the zero
// value so that required-field validation reports the missing fields.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		var (
			appErr  *apperror.AppError
			maxErr  *http.MaxBytesError
			typeErr *json.UnmarshalTypeError
		)
		switch {
		case errors.As(err, &appErr):
			return err
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("", "request body too large")
		case errors.Is(err, model.ErrPriceFormat):
			return apperror.ValidationFailed("price", err.Error())
		case errors.As(err, &typeErr) && typeErr.Field != "":
			return apperror.ValidationFailed(typeErr.Field, "expected "+typeErr.Type.String()+", got "+typeErr.Value)
		}
		return apperror.ValidationFailed("", "malformed JSON body: "+err.Error())
	}
}

func decodeForm(r *http.Request, mediaType string, dst any) error {
	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(maxBodyBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return apperror.ValidationFailed("", "malformed form body")
	}

	if err := formDecoder.Decode(dst, r.PostForm); err != nil {
		var multi schema.MultiError
		if errors.As(err, &multi) && len(multi) > 0 {
			// Report the first field alphabetically so the answer is stable.
			field := slices.Sorted(maps.Keys(multi))[0]
			return apperror.ValidationFailed(field, multi[field].Error())
		}
		return apperror.ValidationFailed("", err.Error())
	}
	return nil
}

// formIDs collects ids from a repeated form field. Each value may itself be
// comma-joined, so "tags=1&tags=2" and "tags=1,2" are the same. A field that
// was sent with only empty values gives an empty, non-nil slice.
func formIDs(field string, values []string) (*[]int64, error) {
	if values == nil {
		return nil, nil
	}
	ids := []int64{}
	for _, v := range values {
		part, err := parseIDList(field, v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, part...)
	}
	return &ids, nil
}

// parseIDList parses a comma-joined id list such as "1,2,3". Empty input
// gives a nil slice.
func parseIDList(field, raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, apperror.ValidationFailed(field, "expected comma-separated integer ids, got "+strconv.Quote(p))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// pathID parses a numeric URL parameter. A non-numeric id cannot name a
// row, so it is a 404 rather than a 400.
func pathID(raw, resource string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NotFound(resource, raw)
	}
	return id, nil
}
