package faceclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectAndEmbed(t *testing.T) {
	image := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req detectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		assert.Equal(t, image, decoded)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"faces":[
			{"bbox":[0,0,10,10],"embedding":[1,0],"det_score":0.9},
			{"bbox":[5,5,45,65],"embedding":[0,1],"det_score":0.8}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	dets, err := c.DetectAndEmbed(context.Background(), image)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, [4]float64{5, 5, 45, 65}, dets[1].BBox)
	assert.Equal(t, []float32{0, 1}, dets[1].Embedding)
	assert.InDelta(t, 0.9, dets[0].Score, 1e-9)
	assert.Equal(t, 1, Largest(dets))
}

func TestDetectAndEmbedEmptyImage(t *testing.T) {
	c := New("http://127.0.0.1:1", false)
	dets, err := c.DetectAndEmbed(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, dets)
}

func TestDetectAndEmbedSkip(t *testing.T) {
	c := New("http://127.0.0.1:1", true)
	dets, err := c.DetectAndEmbed(context.Background(), []byte("frame"))
	assert.NoError(t, err)
	assert.Empty(t, dets)
	assert.NoError(t, c.Health(context.Background()))
}

func TestDetectAndEmbedErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "server error", status: http.StatusInternalServerError, want: ErrUnavailable},
		{name: "bad gateway", status: http.StatusBadGateway, want: ErrUnavailable},
		{name: "undecodable image", status: http.StatusUnprocessableEntity, want: ErrBadImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := New(srv.URL, false).DetectAndEmbed(context.Background(), []byte("x"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDetectAndEmbedUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, false).DetectAndEmbed(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, New(url, false).Health(context.Background()), ErrUnavailable)
}

func TestLargest(t *testing.T) {
	assert.Equal(t, -1, Largest(nil))
	dets := []Detection{
		{BBox: [4]float64{0, 0, 20, 20}},
		{BBox: [4]float64{10, 10, 0, 0}},
		{BBox: [4]float64{0, 0, 10, 40}},
	}
	assert.Equal(t, 0, Largest(dets), "equal areas keep the first")
	assert.Zero(t, dets[1].Area())
}
