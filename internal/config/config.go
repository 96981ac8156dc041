// Package config loads the network configuration described in §6 of the
// design: the TOML-ish set of options accepted by the core, plus an
// environment-variable overlay for secrets that should not live in a
// checked-in file, following the same decode-into-struct idiom the teacher
// uses in its own config package.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Role distinguishes a main server (the root of the federation tree) from a
// secondary (a leaf that links to exactly one parent).
type Role string

const (
	RoleMain      Role = "main"
	RoleSecondary Role = "secondary"
)

// IRCOp is an operator credential, checked by the OPER command.
type IRCOp struct {
	Name     string
	Password string
}

// Server is the network configuration for a single node in the federation,
// i.e. everything §6 "Configuration options" names.
type Server struct {
	ServerName string
	Address    string
	Role       Role

	MainServerName    string
	MainServerAddress string

	UsersFilePath string

	IdleTimeoutSeconds  int
	MaxChannelsPerUser  int
	FileTransferChunkSize int

	Operators []IRCOp

	// LinkPassword authenticates the server-to-server PASS/SERVER
	// handshake (§4.4). It is never written to a checked-in TOML file;
	// see LoadWithEnv.
	LinkPassword string
}

// IdleTimeout is the derived time.Duration of IdleTimeoutSeconds.
func (s Server) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// Default holds the §5/§6 defaults, decoded over before any TOML file is
// applied (mirrors the teacher's package-level DefaultConfig).
var Default = Server{
	IdleTimeoutSeconds:    120,
	MaxChannelsPerUser:    10,
	FileTransferChunkSize: 4096,
}

// FromString decodes a TOML document into a Server, starting from Default.
func FromString(input string) (Server, error) {
	cfg := Default
	if _, err := toml.Decode(input, &cfg); err != nil {
		return Server{}, errors.Wrap(err, "config: decoding TOML")
	}
	return cfg, nil
}

// FromFile reads and decodes path.
func FromFile(path string) (Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Server{}, errors.Wrapf(err, "config: reading %s", path)
	}
	return FromString(string(data))
}

// LoadWithEnv loads the TOML file at path and then overlays secrets from an
// optional dotenv file (envPath, may be empty to skip) and the process
// environment. TOML always wins over env when both set a field explicitly,
// per the precedence godotenv itself documents: dotenv fills in values that
// are otherwise unset, it never clobbers an existing one.
//
// Recognized environment variables:
//
//	IRCFED_LINK_PASSWORD   overlays Server.LinkPassword
func LoadWithEnv(path, envPath string) (Server, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Server{}, err
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Server{}, errors.Wrapf(err, "config: loading %s", envPath)
		}
	}

	if cfg.LinkPassword == "" {
		cfg.LinkPassword = os.Getenv("IRCFED_LINK_PASSWORD")
	}

	return cfg, cfg.Validate()
}

// Validate enforces the required-field rules in §6: server_name and address
// are always required; main_server_name/address and users_file_path are
// required depending on role.
func (s Server) Validate() error {
	if s.ServerName == "" {
		return errors.New("config: server_name is required")
	}
	if s.Address == "" {
		return errors.New("config: address is required")
	}
	switch s.Role {
	case RoleMain:
		if s.UsersFilePath == "" {
			return errors.New("config: users_file_path is required for role=main")
		}
	case RoleSecondary:
		if s.MainServerName == "" || s.MainServerAddress == "" {
			return errors.New("config: main_server_name and main_server_address are required for role=secondary")
		}
	default:
		return fmt.Errorf("config: role must be %q or %q, got %q", RoleMain, RoleSecondary, s.Role)
	}
	return nil
}
