package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/genricoloni/medianotify/internal/domain"
	"github.com/genricoloni/medianotify/internal/monitor/mocks"
	"github.com/godbus/dbus/v5"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

// TestFetchPlayerState covers success, bus errors and malformed data
func TestFetchPlayerState(t *testing.T) {
	playerName := "org.mpris.MediaPlayer2.spotify"

	tests := []struct {
		name          string
		setupMock     func(*mocks.MockDBusClient)
		expectError   bool
		expectedEvent *domain.PlayerEvent
	}{
		{
			name: "Success - Valid Metadata",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().GetProperty(playerName, _playerPath, _propMetadata).
					Return(dbus.MakeVariant(map[string]dbus.Variant{
						"xesam:title":  dbus.MakeVariant("Stairway to Heaven"),
						"xesam:artist": dbus.MakeVariant([]string{"Led Zeppelin"}),
					}), nil)
				m.EXPECT().GetProperty(playerName, _playerPath, _propStatus).
					Return(dbus.MakeVariant("Playing"), nil)
			},
			expectedEvent: &domain.PlayerEvent{
				Type:   domain.PlayerUpdated,
				Player: playerName,
				Title:  "Stairway to Heaven",
				Artist: "Led Zeppelin",
				Status: domain.StatusPlaying,
			},
		},
		{
			name: "DBus Error - Connection Fail",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().GetProperty(playerName, _playerPath, _propMetadata).
					Return(dbus.MakeVariant(""), fmt.Errorf("connection timeout"))
			},
			expectError: true,
		},
		{
			name: "DBus Error - Status Fail",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().GetProperty(playerName, _playerPath, _propMetadata).
					Return(dbus.MakeVariant(map[string]dbus.Variant{}), nil)
				m.EXPECT().GetProperty(playerName, _playerPath, _propStatus).
					Return(dbus.MakeVariant(""), fmt.Errorf("no reply"))
			},
			expectError: true,
		},
		{
			name: "Invalid Data - Metadata is Int not Map",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().GetProperty(playerName, _playerPath, _propMetadata).
					Return(dbus.MakeVariant(12345), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mockClient := mocks.NewMockDBusClient(ctrl)
			tt.setupMock(mockClient)

			mon := NewMprisMonitor(zap.NewNop(), nil)
			mon.conn = mockClient
			mon.running = true

			err := mon.fetchPlayerState(playerName)
			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			select {
			case ev := <-mon.Events():
				if tt.expectedEvent == nil {
					t.Errorf("Unexpected event emitted: %+v", ev)
				} else if ev != *tt.expectedEvent {
					t.Errorf("expected %+v, got %+v", *tt.expectedEvent, ev)
				}
			default:
				if tt.expectedEvent != nil {
					t.Error("Expected event was not emitted")
				}
			}
		})
	}
}

// TestHandleSignal_StatusOnly verifies the metadata is read back when only
// the playback status changed
func TestHandleSignal_StatusOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockClient := mocks.NewMockDBusClient(ctrl)
	mockClient.EXPECT().GetProperty(":1.7", _playerPath, _propMetadata).
		Return(dbus.MakeVariant(map[string]dbus.Variant{"xesam:title": dbus.MakeVariant("Song")}), nil)

	mon := NewMprisMonitor(zap.NewNop(), nil)
	mon.conn = mockClient
	mon.running = true
	mon.playerNames[":1.7"] = "org.mpris.MediaPlayer2.vlc"

	mon.handleSignal(propertiesChanged(":1.7", map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant("Paused"),
	}))

	select {
	case ev := <-mon.Events():
		if ev.Title != "Song" || ev.Status != domain.StatusPaused || ev.Player != "org.mpris.MediaPlayer2.vlc" {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("Expected event was not emitted")
	}
}

// TestDetectExistingPlayers verifies the initial scan of bus names
func TestDetectExistingPlayers(t *testing.T) {
	tests := []struct {
		name             string
		setupMock        func(*mocks.MockDBusClient)
		expectError      bool
		expectedPlayers  int
		expectedMappings map[string]string
	}{
		{
			name: "Success - Detects Spotify and VLC",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().ListNames().Return([]string{
					"org.freedesktop.DBus",
					"org.mpris.MediaPlayer2.spotify",
					"org.mpris.MediaPlayer2.vlc",
					"com.example.OtherApp",
				}, nil)

				m.EXPECT().GetNameOwner("org.mpris.MediaPlayer2.spotify").Return(":1.100", nil)
				m.EXPECT().GetNameOwner("org.mpris.MediaPlayer2.vlc").Return(":1.200", nil)

				m.EXPECT().GetProperty("org.mpris.MediaPlayer2.spotify", _playerPath, _propMetadata).
					Return(dbus.MakeVariant(map[string]dbus.Variant{"xesam:title": dbus.MakeVariant("Song A")}), nil)
				m.EXPECT().GetProperty("org.mpris.MediaPlayer2.spotify", _playerPath, _propStatus).
					Return(dbus.MakeVariant("Playing"), nil)

				m.EXPECT().GetProperty("org.mpris.MediaPlayer2.vlc", _playerPath, _propMetadata).
					Return(dbus.MakeVariant(map[string]dbus.Variant{"xesam:title": dbus.MakeVariant("Video B")}), nil)
				m.EXPECT().GetProperty("org.mpris.MediaPlayer2.vlc", _playerPath, _propStatus).
					Return(dbus.MakeVariant("Paused"), nil)
			},
			expectedPlayers: 2,
			expectedMappings: map[string]string{
				":1.100": "org.mpris.MediaPlayer2.spotify",
				":1.200": "org.mpris.MediaPlayer2.vlc",
			},
		},
		{
			name: "Failure - ListNames fails",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().ListNames().Return(nil, fmt.Errorf("bus error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mockClient := mocks.NewMockDBusClient(ctrl)
			tt.setupMock(mockClient)

			mon := NewMprisMonitor(zap.NewNop(), nil)
			mon.conn = mockClient
			mon.running = true

			err := mon.detectExistingPlayers()
			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			if len(mon.playerNames) != len(tt.expectedMappings) {
				t.Errorf("Mapping count mismatch: want %d, got %d", len(tt.expectedMappings), len(mon.playerNames))
			}
			for k, v := range tt.expectedMappings {
				if mon.playerNames[k] != v {
					t.Errorf("Mapping mismatch for %s: want %s, got %s", k, v, mon.playerNames[k])
				}
			}

			if got := len(mon.Events()); got != tt.expectedPlayers {
				t.Errorf("Expected %d events, got %d", tt.expectedPlayers, got)
			}
		})
	}
}

func TestMonitor_StartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockClient := mocks.NewMockDBusClient(ctrl)

	mockClient.EXPECT().AddMatchSignal(gomock.Any()).Return(nil).Times(2)
	mockClient.EXPECT().Signal(gomock.Any())
	mockClient.EXPECT().ListNames().Return([]string{}, nil)
	mockClient.EXPECT().Close().Return(nil)

	mon := NewMprisMonitor(zap.NewNop(), func() (DBusClient, error) { return mockClient, nil })

	if err := mon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Already running
	if err := mon.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if err := mon.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, ok := <-mon.Events(); ok {
		t.Error("Events channel must be closed after Stop")
	}
	if err := mon.Stop(context.Background()); err != nil {
		t.Errorf("second Stop must be a no-op, got %v", err)
	}

	// The events channel is closed; a restart must not dial again
	if err := mon.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped on restart, got %v", err)
	}
}

func TestMonitor_StartErrors(t *testing.T) {
	t.Run("Dial Fails", func(t *testing.T) {
		mon := NewMprisMonitor(zap.NewNop(), func() (DBusClient, error) {
			return nil, errors.New("no session bus")
		})
		if err := mon.Start(context.Background()); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("Match Rule Fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockClient := mocks.NewMockDBusClient(ctrl)
		mockClient.EXPECT().AddMatchSignal(gomock.Any()).Return(errors.New("access denied"))
		mockClient.EXPECT().Close().Return(nil)

		mon := NewMprisMonitor(zap.NewNop(), func() (DBusClient, error) { return mockClient, nil })
		if err := mon.Start(context.Background()); err == nil {
			t.Error("expected error, got nil")
		}
		if mon.running {
			t.Error("failed Start must not mark the monitor running")
		}
	})
}

func TestMonitor_Control(t *testing.T) {
	player := "org.mpris.MediaPlayer2.spotify"

	tests := []struct {
		kind        domain.ActionKind
		method      string
		callErr     error
		expectError bool
	}{
		{kind: domain.ActionPrev, method: "org.mpris.MediaPlayer2.Player.Previous"},
		{kind: domain.ActionPlay, method: "org.mpris.MediaPlayer2.Player.Play"},
		{kind: domain.ActionPause, method: "org.mpris.MediaPlayer2.Player.Pause"},
		{kind: domain.ActionNext, method: "org.mpris.MediaPlayer2.Player.Next", callErr: errors.New("no reply"), expectError: true},
		{kind: "shuffle", expectError: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mockClient := mocks.NewMockDBusClient(ctrl)
			if tt.method != "" {
				mockClient.EXPECT().CallMethod(gomock.Any(), player, _playerPath, tt.method).Return(tt.callErr)
			}

			mon := NewMprisMonitor(zap.NewNop(), nil)
			mon.conn = mockClient
			mon.running = true

			err := mon.Control(context.Background(), player, tt.kind)
			if tt.expectError != (err != nil) {
				t.Errorf("expected error=%v, got %v", tt.expectError, err)
			}
			if tt.callErr != nil && !errors.Is(err, tt.callErr) {
				t.Errorf("error must wrap the bus error, got %v", err)
			}
		})
	}

	t.Run("Not Running", func(t *testing.T) {
		mon := NewMprisMonitor(zap.NewNop(), nil)
		if err := mon.Control(context.Background(), player, domain.ActionNext); err == nil {
			t.Error("expected error when not running")
		}
	})
}
