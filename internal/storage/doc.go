// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for rigrun-chat.
//
// Two backends implement Store: ConversationStore keeps one JSON file per
// conversation, SQLiteStore keeps everything in one database.
//
// # Key Types
//
//   - Store: storage interface for conversations
//   - StoredConversation: serializable conversation with metadata
//   - ConversationMeta: lightweight metadata for listing
//   - Recorder: chat session history that saves after every turn
//
// # Usage
//
//	store, err := storage.Open("sqlite", dir)
//	rec := storage.NewRecorder(store, "qwen3:8b")
//	rec.AddUser("what time is it?")
//	eng.Run(ctx, engine.Request{Messages: rec.History()}, engine.Observers(ui, rec.Observer()))
//
// # Storage Location
//
// Conversations are stored in ~/.rigrun-chat/conversations/ unless
// storage.dir is set.
package storage
