package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// PersistedUser is one registered-user record from the users file (the "U;"
// line in §6). The core never parses or writes this file directly — it
// consumes exactly this interface — but a default, spec-literal
// implementation is provided below since a runnable server needs one.
type PersistedUser struct {
	Nickname string
	Address  string
	Username string
	Realname string
	Server   string
	Password string
}

// Admin is one admin credential ("A;" line).
type Admin struct {
	Password string
	Nickname string
}

// UserStore is the pluggable load/save interface the core consumes for the
// registered-user database. Out-of-scope persistence implementations (a
// database, a remote API, ...) need only satisfy this.
type UserStore interface {
	LoadUsers() ([]PersistedUser, error)
	SaveUsers([]PersistedUser) error
}

// fileUserStore is the default UserStore, reading and writing the exact
// ";"-delimited format of §6. Saves are atomic: write to a temp file in the
// same directory, then rename over the target.
type fileUserStore struct {
	path string
}

// NewFileUserStore returns the default, spec-literal UserStore backed by a
// flat file at path.
func NewFileUserStore(path string) UserStore {
	return &fileUserStore{path: path}
}

func (f *fileUserStore) LoadUsers() ([]PersistedUser, error) {
	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "persistence: opening %s", f.path)
	}
	defer file.Close()

	var users []PersistedUser
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ";")
		switch parts[0] {
		case "U":
			if len(parts) != 7 {
				return nil, fmt.Errorf("persistence: malformed U; line: %q", line)
			}
			users = append(users, PersistedUser{
				Nickname: parts[1],
				Address:  parts[2],
				Username: parts[3],
				Realname: parts[4],
				Server:   parts[5],
				Password: parts[6],
			})
		case "S", "A":
			// Server config and admin credential lines live in the same
			// file format but are not user records; LoadAdmins/LoadServerLines
			// read them separately.
			continue
		default:
			return nil, fmt.Errorf("persistence: unknown tag %q in line %q", parts[0], line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "persistence: reading %s", f.path)
	}
	return users, nil
}

func (f *fileUserStore) SaveUsers(users []PersistedUser) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".users-*.tmp")
	if err != nil {
		return errors.Wrap(err, "persistence: creating temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	for _, u := range users {
		if _, err := fmt.Fprintf(w, "U;%s;%s;%s;%s;%s;%s\n",
			u.Nickname, u.Address, u.Username, u.Realname, u.Server, u.Password); err != nil {
			tmp.Close()
			return errors.Wrap(err, "persistence: writing users file")
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "persistence: flushing users file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "persistence: closing temp file")
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return errors.Wrapf(err, "persistence: renaming %s to %s", tmpPath, f.path)
	}
	return nil
}

// LoadAdmins reads the "A;password;nickname" lines out of a persistence
// file, used to populate the admin credential table consulted by OPER.
func LoadAdmins(path string) ([]Admin, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "persistence: opening %s", path)
	}
	defer file.Close()

	var admins []Admin
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "A;") {
			continue
		}
		parts := strings.Split(line, ";")
		if len(parts) != 3 {
			return nil, fmt.Errorf("persistence: malformed A; line: %q", line)
		}
		admins = append(admins, Admin{Password: parts[1], Nickname: parts[2]})
	}
	return admins, scanner.Err()
}

// ServerLine is one "S;" server-config record, used to bootstrap a node's
// own Server config from a persistence file instead of (or alongside) TOML.
type ServerLine struct {
	ServerName string
	// For a main server: Address, MainOrNone ("none"), UsersFilePath.
	// For a secondary: OwnAddress, MainName, MainAddress.
	Address       string
	MainOrNone    string
	UsersFilePath string
}

// LoadServerLines reads every "S;" line out of a persistence file.
func LoadServerLines(path string) ([]ServerLine, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "persistence: opening %s", path)
	}
	defer file.Close()

	var lines []ServerLine
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "S;") {
			continue
		}
		parts := strings.Split(line, ";")
		if len(parts) < 4 {
			return nil, fmt.Errorf("persistence: malformed S; line: %q", line)
		}
		sl := ServerLine{ServerName: parts[1], Address: parts[2], MainOrNone: parts[3]}
		if len(parts) > 4 {
			sl.UsersFilePath = parts[4]
		}
		lines = append(lines, sl)
	}
	return lines, scanner.Err()
}
