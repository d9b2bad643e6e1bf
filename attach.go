//go:build dll
// +build dll

/**
 * Copyright 2022 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package main

import "C"

import (
	"context"
	"log"
)

// Built with -buildmode=c-shared the module starts itself as soon as it
// is loaded into the game.
func init() {
	go attach()
}

func attach() {
	err := CheckHost(hostProcess)
	if err != nil {
		log.Printf("not attaching: %s", err)
		return
	}

	config := &Config{}
	err = config.Init()
	if err != nil {
		log.Printf("cannot init config system: %s", err)
		return
	}
	err = config.Load()
	if err != nil {
		log.Printf("error loading config file: %s", err)
		return
	}

	region, err := AttachSelf("")
	if err != nil {
		log.Printf("cannot attach: %s", err)
		return
	}
	log.Printf("attached to %s", region)

	err = Serve(context.Background(), region, config, false)
	if err != nil {
		log.Printf("%s", err)
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
