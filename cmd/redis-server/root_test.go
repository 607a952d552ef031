package main

import (
	"testing"

	"github.com/spf13/viper"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
)

func TestBuildOptions(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]interface{}
		wantRole string
		wantErr  bool
	}{
		{
			name:     "primary",
			settings: map[string]interface{}{"port": 0, "bind": "127.0.0.1"},
			wantRole: "master",
		},
		{
			name:     "replica",
			settings: map[string]interface{}{"port": 0, "bind": "127.0.0.1", "replicaof": "localhost 6379"},
			wantRole: "replica",
		},
		{
			name:     "invalid port",
			settings: map[string]interface{}{"port": 70000},
			wantErr:  true,
		},
		{
			name:     "invalid primary",
			settings: map[string]interface{}{"port": 0, "replicaof": "localhost"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.SetDefault("dir", t.TempDir())
			v.SetDefault("dbfilename", "dump.rdb")
			v.SetDefault("log-level", "error")
			for key, value := range tt.settings {
				v.Set(key, value)
			}

			opts, err := buildOptions(v)
			if err == nil {
				var node *redisserver.Node
				node, err = redisserver.New(opts...)
				if err == nil {
					defer node.Close()
					if got := node.Role(); got != tt.wantRole {
						t.Errorf("Role() = %s, want %s", got, tt.wantRole)
					}
				}
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
