// Package mcp defines the wire-level value types of the Model Context
// Protocol surface implemented by this module: initialize/shutdown lifecycle
// shapes, resources, tools, content blocks and completion payloads.
//
// The types here are deliberately dumb: they carry data between the JSON-RPC
// envelope (package jsonrpc) and the capability modules (package capability)
// and impose no behavior of their own.
package mcp
