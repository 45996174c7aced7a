// ABOUTME: WebRTC output plugin streaming Opus to browser peers
// ABOUTME: Serves SDP negotiation over HTTP and paces 20ms frames onto a shared track
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/encode"
)

// webrtcFormat is the only format the Opus track carries
var webrtcFormat = audio.Format{SampleRate: 48000, Bits: audio.FormatS16, Channels: 2}

// WebRTC is the plugin for browser streaming
type WebRTC struct{}

// Name returns the plugin type
func (*WebRTC) Name() string { return "webrtc" }

// Init validates the output block. The listen key is required.
func (*WebRTC) Init(name string, requested *audio.Format, params Params) (Device, error) {
	listen, err := params.Require("listen")
	if err != nil {
		return nil, err
	}

	if requested != nil {
		forced := webrtcFormat.Apply(*requested)
		if forced != webrtcFormat {
			return nil, fmt.Errorf("%w: webrtc streams %s only, not %s", ErrUnsupportedFormat, webrtcFormat, requested)
		}
	}

	bitrate, err := params.Int("bitrate", 128000)
	if err != nil {
		return nil, err
	}

	return &webrtcDevice{
		log:     logrus.WithFields(logrus.Fields{"output": name, "plugin": "webrtc"}),
		name:    name,
		listen:  listen,
		bitrate: bitrate,
	}, nil
}

type webrtcDevice struct {
	log     *logrus.Entry
	name    string
	listen  string
	bitrate int

	server  *http.Server
	track   *webrtc.TrackLocalStaticSample
	encoder encode.Encoder

	mu    sync.Mutex
	peers []*webrtc.PeerConnection

	pending []byte
	next    time.Time
}

func (d *webrtcDevice) Open(format *audio.Format) error {
	*format = webrtcFormat

	encoder, err := encode.NewOpus(webrtcFormat, d.bitrate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		d.name,
	)
	if err != nil {
		return fmt.Errorf("%w: create audio track failed: %v", ErrDevice, err)
	}

	ln, err := net.Listen("tcp", d.listen)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", ErrDevice, d.listen, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/offer", d.handleOffer)
	d.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	d.encoder = encoder
	d.mu.Lock()
	d.track = track
	d.mu.Unlock()
	d.pending = d.pending[:0]
	d.next = time.Time{}

	server := d.server
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.WithError(err).Error("WebRTC signalling server stopped")
		}
	}()

	d.log.Infof("WebRTC output listening on %s", ln.Addr())
	return nil
}

func (d *webrtcDevice) Play(chunk []byte) (int, error) {
	if d.encoder == nil {
		return 0, fmt.Errorf("%w: output not open", ErrDevice)
	}

	d.pending = append(d.pending, chunk...)
	frameBytes := d.encoder.FrameBytes()

	for len(d.pending) >= frameBytes {
		packet, err := d.encoder.Encode(d.pending[:frameBytes])
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrDevice, err)
		}

		d.pace()
		if err := d.track.WriteSample(media.Sample{Data: packet, Duration: encode.FrameDuration}); err != nil {
			d.log.WithError(err).Debug("Write sample failed")
		}

		d.pending = d.pending[:copy(d.pending, d.pending[frameBytes:])]
	}

	return len(chunk), nil
}

// pace sleeps until the next frame is due so peers receive audio in real time
func (d *webrtcDevice) pace() {
	now := time.Now()
	if d.next.IsZero() || now.Sub(d.next) > 10*encode.FrameDuration {
		d.next = now
	}
	if wait := d.next.Sub(now); wait > 0 {
		time.Sleep(wait)
	}
	d.next = d.next.Add(encode.FrameDuration)
}

func (d *webrtcDevice) Cancel() {
	d.pending = d.pending[:0]
	d.next = time.Time{}
}

func (d *webrtcDevice) Close() {
	if d.server != nil {
		if err := d.server.Close(); err != nil {
			d.log.WithError(err).Warn("WebRTC signalling server close failed")
		}
		d.server = nil
	}

	d.mu.Lock()
	peers := d.peers
	d.peers = nil
	d.track = nil
	d.mu.Unlock()
	for _, pc := range peers {
		_ = pc.Close()
	}

	if d.encoder != nil {
		_ = d.encoder.Close()
		d.encoder = nil
	}
}

// PeerCount returns the number of connected peers
func (d *webrtcDevice) PeerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

func (d *webrtcDevice) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	track := d.track
	d.mu.Unlock()
	if track == nil {
		http.Error(w, "output closed", http.StatusServiceUnavailable)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}
	<-gatherComplete

	d.mu.Lock()
	d.peers = append(d.peers, pc)
	d.mu.Unlock()

	d.log.Infof("WebRTC peer connected (total: %d)", d.PeerCount())

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			d.removePeer(pc)
			pc.Close()
			d.log.Infof("WebRTC peer disconnected (remaining: %d)", d.PeerCount())
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (d *webrtcDevice) removePeer(pc *webrtc.PeerConnection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range d.peers {
		if p == pc {
			d.peers = append(d.peers[:i], d.peers[i+1:]...)
			return
		}
	}
}
