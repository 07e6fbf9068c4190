package userstore

// SQL schema constants for the users/items tables.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    username TEXT PRIMARY KEY,
    customization_json TEXT NOT NULL,
    customization_hash INTEGER NOT NULL DEFAULT 0,
    avatar_key TEXT NOT NULL DEFAULT '',
    clothing_key TEXT NOT NULL DEFAULT '',
    thumbnail_key TEXT NOT NULL DEFAULT ''
);
`

const schemaItems = `
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT ''
);
`
