package oci

import (
	"context"
	"errors"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

var errReadOnlyStore = errors.New("oci: credential store is read-only")

// DockerCredentials returns a store backed by the Docker config file and
// its credential helpers.
func DockerCredentials() (credentials.Store, error) {
	return credentials.NewStoreFromDocker(credentials.StoreOptions{})
}

// StaticCredentials returns a store holding one username and password for
// host.
func StaticCredentials(host, username, password string) credentials.Store {
	return &staticStore{
		host: hostOf(host),
		cred: auth.Credential{Username: username, Password: password},
	}
}

// StaticToken returns a store holding one bearer token for host.
func StaticToken(host, token string) credentials.Store {
	return &staticStore{
		host: hostOf(host),
		cred: auth.Credential{AccessToken: token},
	}
}

type staticStore struct {
	host string
	cred auth.Credential
}

func (s *staticStore) Get(_ context.Context, serverAddress string) (auth.Credential, error) {
	if hostOf(serverAddress) == s.host {
		return s.cred, nil
	}
	return auth.EmptyCredential, nil
}

func (s *staticStore) Put(context.Context, string, auth.Credential) error { return errReadOnlyStore }

func (s *staticStore) Delete(context.Context, string) error { return errReadOnlyStore }

// hostOf reduces a server address to host[:port].
func hostOf(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr, _, _ = strings.Cut(addr, "/")
	return addr
}
