// Copyright 2023 Michael Stapelberg and contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mayqtt implements a maybe-MQTT client: the connection to the
// broker is best-effort. It receives push requests on img2oled/cmnd/push,
// publishes frames to display topics and status to img2oled/ui/status.
package mayqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stapelberg/img2oled"
	"golang.org/x/net/trace"
)

type PublishRequest struct {
	Topic    string
	Qos      byte
	Retained bool
	Payload  interface{}
}

type subscription struct {
	topic   string
	handler func(topic string, payload []byte)
}

var (
	subscriptionsMu sync.Mutex
	subscriptions   []subscription
	connected       mqtt.Client
)

// Subscribe registers a handler for the specified topic (which may contain
// MQTT wildcards). Registrations are (re-)applied whenever the broker
// connection is established, so subscribing before MQTT() is safe.
func Subscribe(topic string, handler func(topic string, payload []byte)) {
	subscriptionsMu.Lock()
	defer subscriptionsMu.Unlock()
	subscriptions = append(subscriptions, subscription{topic, handler})
	if connected != nil {
		subscribe1(connected, subscription{topic, handler})
	}
}

func subscribe1(c mqtt.Client, s subscription) {
	token := c.Subscribe(s.topic, 0 /* qos */, func(_ mqtt.Client, m mqtt.Message) {
		s.handler(m.Topic(), m.Payload())
	})
	if token.Wait() && token.Error() != nil {
		log.Printf("MQTT subscription of %s failed: %v", s.topic, token.Error())
	}
}

func mqttLoop(broker string, pushRequests chan *img2oled.PushRequest, requests <-chan PublishRequest) error {
	tr := trace.New("MQTT", "Loop")
	defer tr.Finish()

	tr.LazyPrintf("Connecting to MQTT broker %s", broker)
	opts := mqtt.NewClientOptions().AddBroker(broker)
	opts.SetClientID("img2oled")
	opts.SetConnectRetry(true)
	opts.OnConnect = func(c mqtt.Client) {
		tr.LazyPrintf("OnConnect, subscribing to img2oled/cmnd/push")
		token := c.Subscribe(
			"img2oled/cmnd/push",
			0, /* qos */
			func(_ mqtt.Client, m mqtt.Message) {
				tr.LazyPrintf("message on topic %s: %q", m.Topic(), string(m.Payload()))
				var pr img2oled.PushRequest
				if err := json.Unmarshal(m.Payload(), &pr); err != nil {
					log.Printf("error unmarshaling payload: %v", err)
					return
				}
				select {
				case pushRequests <- &pr:
				default:
					// Channel full, push request already pending; drop
				}
			})
		if token.Wait() && token.Error() != nil {
			tr.LazyPrintf("subscription failed! %v", token.Error())
		}

		subscriptionsMu.Lock()
		defer subscriptionsMu.Unlock()
		connected = c
		for _, s := range subscriptions {
			subscribe1(c, s)
		}
	}
	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connection failed: %v", token.Error())
	}
	tr.LazyPrintf("Connected to MQTT broker %s", broker)

	for r := range requests {
		tr.LazyPrintf("publishing on topic %s", r.Topic)
		// discard Token, MQTT publishing is best-effort
		_ = mqttClient.Publish(r.Topic, r.Qos, r.Retained, r.Payload)
	}
	return nil
}

var publish chan PublishRequest

func MQTT(broker string, pushRequests chan *img2oled.PushRequest) {
	publish = make(chan PublishRequest)
	go func() {
		if err := mqttLoop(broker, pushRequests, publish); err != nil {
			log.Print(err)
		}
	}()
}

// Publish hands the request to the MQTT loop. It reports whether the request
// was accepted: while the broker is unreachable, requests are dropped.
func Publish(r PublishRequest) bool {
	select {
	case publish <- r:
		return true
	default:
		return false
	}
}

var lastStatus string

func Publishf(format string, args ...interface{}) {
	status := fmt.Sprintf(format, args...)
	// Prevent duplicate messages if status has not changed
	if lastStatus == status {
		return
	}
	lastStatus = status
	select {
	case publish <- PublishRequest{
		Topic:    "img2oled/ui/status",
		Retained: true,
		Payload:  []byte(status),
	}:
	default:
		// drop message if MQTT is not connected
	}
}
