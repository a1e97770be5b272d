package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/lds/conn"
	"github.com/bobg/lds/repo"
)

// The active-account file in Root names the logged-in account.
// Login writes it and logout removes it.
const activeFile = "active"

// activeAccount is the account whose repository commands use:
// the one given with -account,
// else the logged-in one,
// else conn.Unclaimed.
func (c maincmd) activeAccount() (string, error) {
	if c.account != "" {
		return c.account, nil
	}
	return readActive(c.conf.Root)
}

func (c maincmd) openActive(ctx context.Context) (*repo.Repo, func(), error) {
	account, err := c.activeAccount()
	if err != nil {
		return nil, nil, err
	}
	return c.openRepo(ctx, account)
}

func readActive(root string) (string, error) {
	b, err := os.ReadFile(filepath.Join(root, activeFile))
	if os.IsNotExist(err) {
		return conn.Unclaimed, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "reading active account")
	}
	account := strings.TrimSpace(string(b))
	if account == "" {
		return conn.Unclaimed, nil
	}
	return account, checkAccount(account)
}

func writeActive(root, account string) error {
	if err := checkAccount(account); err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return errors.Wrapf(err, "creating %s", root)
	}
	err := os.WriteFile(filepath.Join(root, activeFile), []byte(account+"\n"), 0600)
	return errors.Wrap(err, "writing active account")
}

func removeActive(root string) error {
	err := os.Remove(filepath.Join(root, activeFile))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "removing active account")
}

// checkAccount rejects names that are not a single path element,
// since each account's repository lives in its own directory under Root.
func checkAccount(account string) error {
	if account == "" || account == "." || account == ".." || account == activeFile || strings.ContainsAny(account, `/\`) {
		return fmt.Errorf("invalid account name %q", account)
	}
	return nil
}
