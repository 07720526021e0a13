package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- CONVERSATION TABLE (one per workspace)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS conversation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS workspace_path ON conversation TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON conversation TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS compaction_count ON conversation TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created ON conversation TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON conversation TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS conversation_workspace ON conversation FIELDS workspace_path UNIQUE;

    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation ON message TYPE record<conversation>;
    DEFINE FIELD IF NOT EXISTS role ON message TYPE string ASSERT $value IN ["user", "assistant"];
    DEFINE FIELD IF NOT EXISTS content ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS blocks ON message TYPE array<object>;
    DEFINE FIELD IF NOT EXISTS blocks.* ON message TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS metadata ON message TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS timestamp ON message TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS message_conversation ON message FIELDS conversation;
    DEFINE INDEX IF NOT EXISTS message_timestamp ON message FIELDS timestamp;
    DEFINE ANALYZER IF NOT EXISTS message_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS message_content_ft ON message FIELDS content FULLTEXT ANALYZER message_analyzer BM25;
`
