package mqtt

import (
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"panelkit/SB100/SC1/set", "panelkit/SB100/SC1/set", true},
		{"panelkit/+/+/set", "panelkit/SB100/SC1/set", true},
		{"panelkit/+/+/set", "panelkit/SB100/SC1/state", false},
		{"panelkit/+/+/set", "panelkit/SB100/set", false},
		{"panelkit/#", "panelkit/SB100/SC1/set", true},
		{"panelkit/#", "panelkit", false},
		{"#", "anything/at/all", true},
		{"panelkit/+", "panelkit/SB100", true},
		{"panelkit/+", "panelkit/SB100/SC1", false},
		{"other/+/+/set", "panelkit/SB100/SC1/set", false},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, topicMatches(c.filter, c.topic),
			"filter %q against topic %q", c.filter, c.topic)
	}
}

type recordingHandler struct {
	topic    string
	received []*paho.Publish
}

func (rh *recordingHandler) MqttHandle(pub *paho.Publish) {
	rh.received = append(rh.received, pub)
}

func (rh *recordingHandler) MqttSubscribeTopic() string {
	return rh.topic
}

func TestOnPublishRecvDispatch(t *testing.T) {
	commands := &recordingHandler{topic: "panelkit/+/+/set"}
	other := &recordingHandler{topic: "other/#"}

	mc := &MqttClient{
		logger:   log.NewWithOptions(os.Stderr, log.Options{}),
		handlers: []MqttHandler{commands, other},
	}
	recv := mc.onPublishRecv()
	require.Len(t, recv, 1)

	handled, err := recv[0](paho.PublishReceived{Packet: &paho.Publish{
		Topic:   "panelkit/SB100/SC1/set",
		Payload: []byte("OFF"),
	}})
	require.NoError(t, err)
	assert.True(t, handled)

	handled, err = recv[0](paho.PublishReceived{Packet: &paho.Publish{
		Topic: "unrelated/topic",
	}})
	require.NoError(t, err)
	assert.False(t, handled)

	require.Len(t, commands.received, 1)
	assert.Equal(t, "panelkit/SB100/SC1/set", commands.received[0].Topic)
	assert.Equal(t, []byte("OFF"), commands.received[0].Payload)
	assert.Empty(t, other.received)
}

func TestNewMqttClientRejectsBadBroker(t *testing.T) {
	_, err := NewMqttClient("://not-a-url", "panelkit")
	assert.Error(t, err)
}
