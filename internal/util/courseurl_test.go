package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalCourseURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "public storefront url",
			in:   "https://www.udemy.com/course/go-bootcamp/",
			want: "https://samsungu.udemy.com/course/go-bootcamp/",
		},
		{
			name: "already canonical",
			in:   "https://samsungu.udemy.com/course/go-bootcamp/",
			want: "https://samsungu.udemy.com/course/go-bootcamp/",
		},
		{
			name: "tracking params stripped",
			in:   "https://www.udemy.com/course/go-bootcamp/?couponCode=XYZ&utm_source=ads#reviews",
			want: "https://samsungu.udemy.com/course/go-bootcamp/",
		},
		{
			name: "missing scheme",
			in:   "udemy.com/course/go-bootcamp",
			want: "https://samsungu.udemy.com/course/go-bootcamp/",
		},
		{
			name: "bare domain without trailing slash",
			in:   "https://udemy.com/course/data-eng_101",
			want: "https://samsungu.udemy.com/course/data-eng_101/",
		},
		{
			name:    "foreign host",
			in:      "https://example.com/course/go-bootcamp/",
			wantErr: true,
		},
		{
			name:    "lookalike host",
			in:      "https://notudemy.com/course/go-bootcamp/",
			wantErr: true,
		},
		{
			name:    "non-course path",
			in:      "https://www.udemy.com/cart/checkout/",
			wantErr: true,
		},
		{
			name:    "empty",
			in:      "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalCourseURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPublicCourseURL(t *testing.T) {
	got, err := PublicCourseURL("https://samsungu.udemy.com/course/go-bootcamp/?x=1")
	assert.NoError(t, err)
	assert.Equal(t, "https://www.udemy.com/course/go-bootcamp/", got)
}

func TestCanonicalizationIsIdempotent(t *testing.T) {
	first, err := CanonicalCourseURL("www.udemy.com/course/sql-mastery")
	assert.NoError(t, err)

	second, err := CanonicalCourseURL(first)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}
