package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validationf("unsupported file format"), http.StatusBadRequest},
		{New(NotFound, nil, "file not found"), http.StatusNotFound},
		{Pipelinef(errors.New("decode"), "inference failed"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", Validationf("bad zone")), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("ffmpeg exited 1")
	err := Pipelinef(cause, "extract frames")

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is did not find cause")
	}
	if err.Error() != "extract frames: ffmpeg exited 1" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !Is(err, Pipeline) || Is(err, Validation) {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
}
