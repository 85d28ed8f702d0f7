package blob

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"typed not found", &types.NotFound{}, true},
		{"api not found", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"api no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"api access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("dial tcp: connection refused"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isNotFound(tc.err); got != tc.want {
				t.Errorf("isNotFound(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestLocator(t *testing.T) {
	s := &Store{bucket: "gov-media"}
	if got := s.Locator("media/wa/house/hearing.mp4"); got != "s3://gov-media/media/wa/house/hearing.mp4" {
		t.Errorf("got %q", got)
	}
}
