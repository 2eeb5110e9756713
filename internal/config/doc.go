// ABOUTME: Package documentation for cdp-relay configuration.
// ABOUTME: Summarizes the YAML schema and defaulting behavior.

// Package config loads and validates the cdp-relay YAML configuration.
//
// A minimal config file:
//
//	server:
//	  http_addr: "127.0.0.1:9223"
//	logging:
//	  level: debug
//
// Environment variables may be interpolated with ${VAR_NAME} syntax, which
// keeps secrets like the tailscale auth key out of the file:
//
//	tailscale:
//	  enabled: true
//	  hostname: cdp-relay
//	  auth_key: ${TS_AUTHKEY}
//
// Every field has a default (see Default), so the relay also starts with no
// config file at all.
package config
