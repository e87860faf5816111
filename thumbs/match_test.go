package thumbs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	squareURL = "https://i.pximg.net/c/360x360_70/img-master/img/2020/01/01/12/00/00/12345678_p0_square1200.jpg"
	masterURL = "https://i.pximg.net/img-master/img/2020/01/01/12/00/00/12345678_p0_master1200.jpg"
	customURL = "https://i-cf.pximg.net/c/250x250_80_a2/custom-thumb/img/2020/01/01/12/00/00/12345678_p0_custom1200.jpg"
	imagePath = "img/2020/01/01/12/00/00/12345678_p0"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Ref
	}{
		{
			name:  "square with size segment",
			input: squareURL,
			want:  Ref{Domain: "i.pximg.net", Width: 360, Height: 360, Path: imagePath, Crop: CropSquare},
		},
		{
			name:  "master without size segment",
			input: masterURL,
			want:  Ref{Domain: "i.pximg.net", Width: 1200, Height: 1200, Path: imagePath, Crop: CropMaster},
		},
		{
			name:  "custom crop on alternate host",
			input: customURL,
			want:  Ref{Domain: "i-cf.pximg.net", Width: 250, Height: 250, Path: imagePath, Crop: CropCustom},
		},
		{
			name:  "non square size",
			input: "http://i.pximg.net/c/240x480/img-master/img/2019/05/05/00/00/00/999_p3_master1200.jpg",
			want:  Ref{Domain: "i.pximg.net", Width: 240, Height: 480, Path: "img/2019/05/05/00/00/00/999_p3", Crop: CropMaster},
		},
		{
			name:  "inside css url",
			input: `url("` + squareURL + `")`,
			want:  Ref{Domain: "i.pximg.net", Width: 360, Height: 360, Path: imagePath, Crop: CropSquare},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(tt.input, Settings{})
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchRejects(t *testing.T) {
	for _, input := range []string{
		"",
		"none",
		"https://s.pximg.net/common/images/no_profile.png",
		"https://i.pximg.net/img-original/img/2020/01/01/12/00/00/12345678_p0.png",
		"https://example.com/c/360x360/img-master/img/1_p0_master1200.jpg",
	} {
		_, ok := Match(input, Settings{})
		assert.False(t, ok, input)
	}
}

func TestMatchDomainOverride(t *testing.T) {
	s := Settings{DomainOverride: "alt.example.net"}
	ref, ok := Match(squareURL, s)
	require.True(t, ok)
	assert.Equal(t, "alt.example.net", ref.Domain)

	// a URL already moved to the override host still parses
	set := GenerateImageSet(600, ref, s, 1)
	again, ok := Match(set.Default.URL, s)
	require.True(t, ok)
	assert.Equal(t, ref.Path, again.Path)

	// but not once the override is turned off
	_, ok = Match(set.Default.URL, Settings{})
	assert.False(t, ok)
}

func TestRefIntrinsicSize(t *testing.T) {
	assert.Equal(t, 480, Ref{Width: 240, Height: 480}.IntrinsicSize())
	assert.Equal(t, 600, Ref{Width: 600, Height: 300}.IntrinsicSize())
}
