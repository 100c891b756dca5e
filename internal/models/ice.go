package models

// ICEServer is one RTCIceServer entry handed to call clients
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEConfiguration is the REST response for /ice-servers
type ICEConfiguration struct {
	ICEServers []ICEServer `json:"iceServers"`
	TTLSeconds int64       `json:"ttl"`
	ExpiresAt  int64       `json:"expiresAt,omitempty"`
}
