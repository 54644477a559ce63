/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package jetstream

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/isb/writer"
)

func startEmbeddedServer(t *testing.T) (*server.Server, *nats.Conn, nats.JetStreamContext) {
	t.Helper()

	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := nc.JetStream()
	require.NoError(t, err)

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     "WRITER_TEST",
		Subjects: []string{"writer.test.>"},
	})
	require.NoError(t, err)

	return srv, nc, js
}

func TestWritePublishesAndAcks(t *testing.T) {
	_, _, js := startEmbeddedServer(t)

	w := New(js, "writer.test.out")
	msg := isb.Message{
		Value: []byte("hello"),
		ID:    isb.MessageID{VertexName: "vtx", Offset: "1", Index: 0},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack := <-w.Write(ctx, msg)
	require.Equal(t, isb.Ack, ack)
}

func TestWriteDiscardLatestNaksOnRepeatedFailure(t *testing.T) {
	_, _, js := startEmbeddedServer(t)

	w := New(js, "no.such.stream.subject", WithBufferFullStrategy(writer.DiscardLatest))
	msg := isb.Message{
		Value: []byte("hello"),
		ID:    isb.MessageID{VertexName: "vtx", Offset: "1", Index: 0},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack := <-w.Write(ctx, msg)
	require.Equal(t, isb.Nak, ack)
}

func TestWriteRetryUntilSuccessNaksOnCancel(t *testing.T) {
	_, _, js := startEmbeddedServer(t)

	w := New(js, "no.such.stream.subject", WithRetryInterval(time.Millisecond))
	msg := isb.Message{
		Value: []byte("hello"),
		ID:    isb.MessageID{VertexName: "vtx", Offset: "1", Index: 0},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ack := <-w.Write(ctx, msg)
	require.Equal(t, isb.Nak, ack)
}
