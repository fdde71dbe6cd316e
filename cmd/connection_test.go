// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/dpsctl/internal/config"
)

// bridge is a WebSocket serial bridge stand-in
func bridge(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection_ReadsBinaryAsStream(t *testing.T) {
	url := bridge(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0xF0, 0xA1, 0xC0, 0x04, 0x01})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = conn.ReadMessage()
	})

	conn, err := OpenWebSocketConnection(context.Background(), url, "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2)
	var got []byte
	for {
		n, err := conn.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.Equal(t, []byte{0xF0, 0xA1, 0xC0, 0x04, 0x01}, got)

	// A closed connection stays at EOF
	n, err := conn.Read(buf)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWebSocketConnection_WriteAndAuth(t *testing.T) {
	received := make(chan []byte, 1)
	auth := make(chan string, 1)
	url := bridge(t, func(conn *websocket.Conn, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		auth <- user + ":" + pass
		mt, data, err := conn.ReadMessage()
		if err == nil && mt == websocket.BinaryMessage {
			received <- data
		}
	})

	conn, err := OpenWebSocketConnection(context.Background(), url, "bench", "secret", false)
	require.NoError(t, err)
	defer conn.Close()

	frame := []byte{0xF1, 0xC1, 0x00, 0x01, 0x01, 0x02}
	n, err := conn.Write(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)

	assert.Equal(t, "bench:secret", <-auth)
	assert.Equal(t, frame, <-received)
}

func TestOpenWebSocketConnection_RejectsScheme(t *testing.T) {
	_, err := OpenWebSocketConnection(context.Background(), "http://localhost/ws", "", "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestOpenConnection_RequiresTarget(t *testing.T) {
	_, _, err := OpenConnection(context.Background(), &config.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--port or --url")
}

func TestGetPassword_FromEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "hunter2")
	pw, err := GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
}
