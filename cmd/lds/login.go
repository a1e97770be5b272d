package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/lds/conn"
)

func (c maincmd) login(ctx context.Context, _ []string) error {
	if c.conf.OAuth == nil {
		return errors.New("no oauth configuration")
	}

	ctrl, states, stop := c.controller(ctx)
	defer stop()

	ctrl.Dispatch(conn.Load{})
	s, err := awaitSettled(ctx, states)
	if err != nil {
		return err
	}
	if _, ok := s.(conn.Ready); ok {
		ctrl.Dispatch(conn.Login{})
		if s, err = awaitSettled(ctx, states); err != nil {
			return err
		}
	}

	logged, ok := s.(conn.Logged)
	if !ok {
		return fmt.Errorf("login ended in state %s", s)
	}
	if err = writeActive(c.conf.Root, logged.Repository); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s <%s> (id %s)\n", logged.Profile.Name, logged.Profile.Email, logged.Profile.ID)
	return nil
}

func (c maincmd) logout(ctx context.Context, _ []string) error {
	if c.conf.OAuth == nil {
		return errors.New("no oauth configuration")
	}

	ctrl, states, stop := c.controller(ctx)
	defer stop()

	ctrl.Dispatch(conn.Load{})
	s, err := awaitSettled(ctx, states)
	if err != nil {
		return err
	}
	if _, ok := s.(conn.Logged); !ok {
		fmt.Println("Not logged in")
		return removeActive(c.conf.Root)
	}

	ctrl.Dispatch(conn.Logout{})
	if _, err = awaitSettled(ctx, states); err != nil {
		return err
	}
	if err = removeActive(c.conf.Root); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}
