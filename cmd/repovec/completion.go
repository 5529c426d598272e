// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kraklabs/repovec/internal/errors"
)

// bashCompletionTemplate is the bash completion script for repovec.
const bashCompletionTemplate = `#!/bin/bash

# Bash completion script for repovec
# Installation:
#   source <(repovec completion bash)
#   Or add to ~/.bashrc:
#   echo 'source <(repovec completion bash)' >> ~/.bashrc

_repovec_completion() {
    local cur prev commands
    commands="init ingest status search reset completion"

    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    # Global flags
    if [[ ${cur} == -* ]] ; then
        COMPREPLY=( $(compgen -W "--version --config --json --quiet --no-color" -- ${cur}) )
        return 0
    fi

    # First argument: complete commands
    if [ $COMP_CWORD -eq 1 ]; then
        COMPREPLY=( $(compgen -W "${commands}" -- ${cur}) )
        return 0
    fi

    # Command-specific flag completion
    local cmd="${COMP_WORDS[1]}"
    case "${cmd}" in
        init)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--force -y --project-id --source --embedding-provider --index-url --collection --dimension --skip-index" -- ${cur}) )
            fi
            ;;
        ingest)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--reingest --embed-workers --debug --metrics-addr" -- ${cur}) )
            fi
            ;;
        status)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--json" -- ${cur}) )
            fi
            ;;
        search)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--limit --timeout --content --answer" -- ${cur}) )
            fi
            ;;
        reset)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--yes --keep-index" -- ${cur}) )
            fi
            ;;
        completion)
            if [ $COMP_CWORD -eq 2 ]; then
                COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            fi
            ;;
    esac
}

complete -F _repovec_completion repovec
`

// zshCompletionTemplate is the zsh completion script for repovec.
const zshCompletionTemplate = `#compdef repovec

# Zsh completion script for repovec
# Installation:
#   1. Ensure compinit is loaded (add to ~/.zshrc if not present):
#      autoload -U compinit; compinit
#   2. Save this script to a directory in your fpath:
#      repovec completion zsh > "${fpath[1]}/_repovec"
#   3. Reload completions:
#      rm -f ~/.zcompdump; compinit

_repovec() {
    local -a commands
    commands=(
        'init:Create .repovec/project.yaml configuration'
        'ingest:Ingest the configured repository into the vector index'
        'status:Show checkpoint and index status'
        'search:Search indexed chunks by meaning'
        'reset:Delete indexed data and checkpoint'
        'completion:Generate shell completion script'
    )

    _arguments -C \
        '(- *)--version[Show version and exit]' \
        '--config[Path to .repovec/project.yaml]:config file:_files -g "*.yaml"' \
        '--json[Output as JSON]' \
        '(-q --quiet)'{-q,--quiet}'[Suppress progress output]' \
        '--no-color[Disable colored output]' \
        '1: :->command' \
        '*:: :->args'

    case $state in
        command)
            _describe 'command' commands
            ;;
        args)
            case $words[1] in
                init)
                    _arguments \
                        '--force[Overwrite existing configuration]' \
                        '-y[Non-interactive mode]' \
                        '--project-id[Project identifier]:id:' \
                        '--source[Repository to ingest]:source:_files' \
                        '--embedding-provider[Embedding provider]:provider:(ollama openai mock)' \
                        '--index-url[Qdrant base URL]:url:' \
                        '--collection[Qdrant collection name]:name:' \
                        '--dimension[Embedding vector dimension]:dimension:' \
                        '--skip-index[Do not contact the vector store]'
                    ;;
                ingest)
                    _arguments \
                        '--reingest[Delete indexed data and rebuild]' \
                        '--embed-workers[Number of embedding workers]:workers:' \
                        '--debug[Enable debug logging]' \
                        '--metrics-addr[Prometheus metrics address]:address:'
                    ;;
                status)
                    _arguments \
                        '--json[Output as JSON]'
                    ;;
                search)
                    _arguments \
                        '--limit[Maximum number of hits]:limit:' \
                        '--timeout[Search timeout]:timeout:' \
                        '--content[Include chunk content]' \
                        '--answer[Synthesize an answer with the configured LLM]' \
                        '1:query:'
                    ;;
                reset)
                    _arguments \
                        '--yes[Skip confirmation prompt]' \
                        '--keep-index[Clear only the local checkpoint]'
                    ;;
                completion)
                    _arguments \
                        '1:shell:(bash zsh fish)'
                    ;;
            esac
            ;;
    esac
}

_repovec
`

// fishCompletionTemplate is the fish completion script for repovec.
const fishCompletionTemplate = `# Fish completion script for repovec
# Installation:
#   1. Load completions for current session:
#      repovec completion fish | source
#   2. Install permanently:
#      repovec completion fish > ~/.config/fish/completions/repovec.fish

# Commands
complete -c repovec -f -n "__fish_use_subcommand" -a "init" -d "Create .repovec/project.yaml configuration"
complete -c repovec -f -n "__fish_use_subcommand" -a "ingest" -d "Ingest the configured repository"
complete -c repovec -f -n "__fish_use_subcommand" -a "status" -d "Show checkpoint and index status"
complete -c repovec -f -n "__fish_use_subcommand" -a "search" -d "Search indexed chunks by meaning"
complete -c repovec -f -n "__fish_use_subcommand" -a "reset" -d "Delete indexed data and checkpoint (destructive!)"
complete -c repovec -f -n "__fish_use_subcommand" -a "completion" -d "Generate shell completion script"

# Global flags
complete -c repovec -l version -d "Show version and exit"
complete -c repovec -l config -d "Path to .repovec/project.yaml" -r
complete -c repovec -l json -d "Output as JSON"
complete -c repovec -s q -l quiet -d "Suppress progress output"
complete -c repovec -l no-color -d "Disable colored output"

# init command flags
complete -c repovec -n "__fish_seen_subcommand_from init" -l force -d "Overwrite existing configuration"
complete -c repovec -n "__fish_seen_subcommand_from init" -s y -d "Non-interactive mode"
complete -c repovec -n "__fish_seen_subcommand_from init" -l project-id -d "Project identifier" -r
complete -c repovec -n "__fish_seen_subcommand_from init" -l source -d "Repository to ingest" -r
complete -c repovec -n "__fish_seen_subcommand_from init" -l embedding-provider -d "Embedding provider" -r -f -a "ollama openai mock"
complete -c repovec -n "__fish_seen_subcommand_from init" -l index-url -d "Qdrant base URL" -r
complete -c repovec -n "__fish_seen_subcommand_from init" -l collection -d "Qdrant collection name" -r
complete -c repovec -n "__fish_seen_subcommand_from init" -l dimension -d "Embedding vector dimension" -r
complete -c repovec -n "__fish_seen_subcommand_from init" -l skip-index -d "Do not contact the vector store"

# ingest command flags
complete -c repovec -n "__fish_seen_subcommand_from ingest" -l reingest -d "Delete indexed data and rebuild"
complete -c repovec -n "__fish_seen_subcommand_from ingest" -l embed-workers -d "Number of embedding workers" -r
complete -c repovec -n "__fish_seen_subcommand_from ingest" -l debug -d "Enable debug logging"
complete -c repovec -n "__fish_seen_subcommand_from ingest" -l metrics-addr -d "Prometheus metrics address" -r

# status command flags
complete -c repovec -n "__fish_seen_subcommand_from status" -l json -d "Output as JSON"

# search command flags
complete -c repovec -n "__fish_seen_subcommand_from search" -l limit -d "Maximum number of hits" -r
complete -c repovec -n "__fish_seen_subcommand_from search" -l timeout -d "Search timeout" -r
complete -c repovec -n "__fish_seen_subcommand_from search" -l content -d "Include chunk content"
complete -c repovec -n "__fish_seen_subcommand_from search" -l answer -d "Synthesize an answer with the configured LLM"

# reset command flags
complete -c repovec -n "__fish_seen_subcommand_from reset" -l yes -d "Skip confirmation prompt"
complete -c repovec -n "__fish_seen_subcommand_from reset" -l keep-index -d "Clear only the local checkpoint"

# completion command arguments
complete -c repovec -n "__fish_seen_subcommand_from completion" -f -a "bash" -d "Generate bash completion script"
complete -c repovec -n "__fish_seen_subcommand_from completion" -f -a "zsh" -d "Generate zsh completion script"
complete -c repovec -n "__fish_seen_subcommand_from completion" -f -a "fish" -d "Generate fish completion script"
`

// runCompletion executes the 'completion' CLI command, generating
// shell-specific completion scripts for bash, zsh, or fish.
//
// Usage:
//
//	repovec completion [bash|zsh|fish]
//
// Examples:
//
//	repovec completion bash                         Output bash completion script
//	source <(repovec completion bash)               Load bash completions in current shell
//	repovec completion zsh > "${fpath[1]}/_repovec" Install zsh completions permanently
//	repovec completion fish | source                Load fish completions in current shell
func runCompletion(args []string) {
	fs := flag.NewFlagSet("completion", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repovec completion <shell>

Description:
  Generate shell completion scripts for bash, zsh, or fish.

Arguments:
  shell    Shell type: bash, zsh, or fish (required)

Examples:
  # Load bash completions in current shell
  source <(repovec completion bash)

  # Install bash completions permanently (Linux)
  repovec completion bash > /etc/bash_completion.d/repovec

  # Install zsh completions
  repovec completion zsh > "${fpath[1]}/_repovec"

  # Install fish completions
  repovec completion fish > ~/.config/fish/completions/repovec.fish

Notes:
  After installing completions, restart your shell or source your rc file.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() != 1 {
		errors.FatalError(errors.NewInputError(
			"Invalid arguments",
			"The completion command requires exactly one argument: the shell name",
			"Run 'repovec completion bash', 'repovec completion zsh', or 'repovec completion fish'",
		), false)
	}

	shell := fs.Arg(0)

	switch shell {
	case "bash":
		fmt.Print(bashCompletionTemplate)
	case "zsh":
		fmt.Print(zshCompletionTemplate)
	case "fish":
		fmt.Print(fishCompletionTemplate)
	default:
		errors.FatalError(errors.NewInputError(
			"Unsupported shell",
			fmt.Sprintf("Shell '%s' is not supported. Valid options: bash, zsh, fish", shell),
			"Run 'repovec completion bash', 'repovec completion zsh', or 'repovec completion fish'",
		), false)
	}
}
