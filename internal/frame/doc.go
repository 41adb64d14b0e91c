// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package frame turns a chunked byte stream into discrete JSON frames.
//
// Both hops of a streaming chat turn are line oriented: the model backend
// replies with newline-delimited JSON and the relay answers its own clients
// with server-sent events. Network reads split those lines at arbitrary
// points, so the package keeps the incomplete tail of the stream buffered
// and only hands out frames once their terminating newline has arrived.
//
// Two layers are provided:
//
//   - Decoder is push based. Feed it chunks with Write and collect whatever
//     frames completed; call Flush once the stream ends.
//   - Scanner is pull based. It wraps an io.Reader and yields one frame per
//     call to Next, reading more bytes only when no complete frame is left.
//
// Blank lines, comment lines (":" prefix, used for keep-alives) and the
// "[DONE]" sentinel are dropped silently. Anything that is not a JSON object
// is logged and skipped. Nothing in the package fails because of payload
// content; only read errors from the underlying transport surface.
//
// Usage:
//
//	sc := frame.NewScanner(resp.Body, frame.WithDataPrefix())
//	for sc.Next() {
//	    var ev Event
//	    if err := json.Unmarshal(sc.Frame(), &ev); err != nil {
//	        continue
//	    }
//	    ...
//	}
//	if err := sc.Err(); err != nil {
//	    return err
//	}
package frame
